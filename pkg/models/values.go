package models

import (
	"strings"

	"github.com/spf13/cast"
)

// FloatSlice accepts the shapes viper hands back for a list: a typed slice
// from Set, or []interface{} / a comma separated string from a file or env.
// Any element that does not parse fails the whole list.
func FloatSlice(v interface{}) ([]float64, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []float64:
		return append([]float64(nil), s...), nil
	case []interface{}:
		out := make([]float64, len(s))
		for i, e := range s {
			f, err := cast.ToFloat64E(e)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	case []string:
		out := make([]float64, len(s))
		for i, e := range s {
			f, err := cast.ToFloat64E(strings.TrimSpace(e))
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	case string:
		if strings.TrimSpace(s) == "" {
			return nil, nil
		}
		return FloatSlice(strings.Split(s, ","))
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, err
	}
	return []float64{f}, nil
}
