package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatSlice(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    []float64
		wantErr bool
	}{
		{"nil", nil, nil, false},
		{"typed", []float64{0.1, 0.2}, []float64{0.1, 0.2}, false},
		{"generic list", []interface{}{0.1, "0.3"}, []float64{0.1, 0.3}, false},
		{"string list", []string{" 0.1", "2"}, []float64{0.1, 2}, false},
		{"comma separated", "0.1, 0.05", []float64{0.1, 0.05}, false},
		{"blank string", "  ", nil, false},
		{"scalar", 0.5, []float64{0.5}, false},
		{"bad element in list", []interface{}{"abc", 0.1}, nil, true},
		{"bad element in string", "0.1,oops", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FloatSlice(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
