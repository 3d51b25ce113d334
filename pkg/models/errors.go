package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the partitioning engines. Call sites wrap them
// with fmt.Errorf("...: %w", err) so callers match with errors.Is.
var (
	// ErrMissingParameter is returned when a required gene-cluster id or
	// category column is absent.
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrDesignDegenerate is returned when the one-hot category design is not
	// full column rank, i.e. some category has no observations left.
	ErrDesignDegenerate = errors.New("category design matrix is not full rank")

	// ErrPenaltyPath is returned by a solver that cannot bound the maximum
	// usable penalty for the data, family and weights given.
	ErrPenaltyPath = errors.New("cannot bound maximum lambda")

	// ErrFusedLasso is returned when every requested penalized run failed.
	ErrFusedLasso = errors.New("fused lasso failed for all runs")

	// ErrConsensus marks a consensus procedure failure. It is never returned
	// to callers of the resolver; the resolver falls back instead.
	ErrConsensus = errors.New("consensus clustering failed")
)

// ValidationError represents a structured validation error on one field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   string `json:"value,omitempty"`
}

func (ve ValidationError) Error() string {
	if ve.Value != "" {
		return fmt.Sprintf("validation error in field '%s': %s (value: %s)", ve.Field, ve.Message, ve.Value)
	}
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}
	return fmt.Sprintf("%d validation errors: %s (and %d more)", len(ve), ve[0].Error(), len(ve)-1)
}

// OrNil returns nil when there are no errors so the collection can be
// returned directly as an error value.
func (ve ValidationErrors) OrNil() error {
	if len(ve) == 0 {
		return nil
	}
	return ve
}
