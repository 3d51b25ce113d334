package models

import (
	"fmt"
	"sort"
)

// Partition assigns every category exactly one integer label. Only the
// induced equivalence relation is meaningful; label values are arbitrary.
type Partition struct {
	Categories []string `json:"categories"`
	Labels     []int    `json:"labels"`
}

// NewPartition builds a partition and renumbers labels in first-appearance
// order.
func NewPartition(categories []string, labels []int) (Partition, error) {
	p := Partition{
		Categories: append([]string(nil), categories...),
		Labels:     append([]int(nil), labels...),
	}
	if err := p.Validate(); err != nil {
		return Partition{}, err
	}
	p.Relabel()
	return p, nil
}

// Validate checks that every category appears exactly once with a label.
func (p Partition) Validate() error {
	var errs ValidationErrors
	if len(p.Categories) == 0 {
		errs = append(errs, ValidationError{Field: "categories", Message: "partition has no categories"})
	}
	if len(p.Labels) != len(p.Categories) {
		errs = append(errs, ValidationError{
			Field:   "labels",
			Message: "label count must equal category count",
			Value:   fmt.Sprintf("%d != %d", len(p.Labels), len(p.Categories)),
		})
	}
	seen := make(map[string]bool, len(p.Categories))
	for _, c := range p.Categories {
		if seen[c] {
			errs = append(errs, ValidationError{Field: "categories", Message: "duplicate category", Value: c})
		}
		seen[c] = true
	}
	return errs.OrNil()
}

// Relabel renumbers labels 1..k in order of first appearance.
func (p *Partition) Relabel() {
	next := 1
	seen := make(map[int]int, len(p.Labels))
	for i, l := range p.Labels {
		id, ok := seen[l]
		if !ok {
			id = next
			seen[l] = id
			next++
		}
		p.Labels[i] = id
	}
}

// NumGroups returns the number of distinct labels.
func (p Partition) NumGroups() int {
	seen := make(map[int]bool, len(p.Labels))
	for _, l := range p.Labels {
		seen[l] = true
	}
	return len(seen)
}

// Same reports whether categories i and j (by index) share a label.
func (p Partition) Same(i, j int) bool {
	return p.Labels[i] == p.Labels[j]
}

// Groups returns the category names of each group, ordered by label.
func (p Partition) Groups() [][]string {
	byLabel := make(map[int][]string)
	for i, l := range p.Labels {
		byLabel[l] = append(byLabel[l], p.Categories[i])
	}
	labels := make([]int, 0, len(byLabel))
	for l := range byLabel {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	groups := make([][]string, len(labels))
	for i, l := range labels {
		groups[i] = byLabel[l]
	}
	return groups
}
