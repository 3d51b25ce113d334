package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPartitionRelabelsByFirstAppearance(t *testing.T) {
	p, err := NewPartition([]string{"A", "B", "C", "D"}, []int{7, 3, 7, 9})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 1, 3}, p.Labels)
	assert.Equal(t, 3, p.NumGroups())
	assert.Equal(t, [][]string{{"A", "C"}, {"B"}, {"D"}}, p.Groups())

	assert.True(t, p.Same(0, 2))
	assert.False(t, p.Same(0, 1))
}

func TestPartitionValidate(t *testing.T) {
	tests := []struct {
		name  string
		p     Partition
		field string
	}{
		{"empty", Partition{}, "categories"},
		{"length mismatch", Partition{Categories: []string{"A", "B"}, Labels: []int{1}}, "labels"},
		{"duplicate", Partition{Categories: []string{"A", "A"}, Labels: []int{1, 2}}, "categories"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			require.Error(t, err)
			var ve ValidationErrors
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve[0].Field)
		})
	}
}
