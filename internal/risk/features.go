package risk

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var featureKey = regexp.MustCompile(`^V\d{1,2}$`)

// IsFeatureKey reports whether name is a model feature (V followed by one
// or two digits).
func IsFeatureKey(name string) bool {
	return featureKey.MatchString(name)
}

// Features are the model inputs of one transaction. V holds only keys
// accepted by IsFeatureKey.
type Features struct {
	Amount float64
	Time   float64
	V      map[string]float64
}

// FeatureKeys returns the V keys in numeric order.
func (f Features) FeatureKeys() []string {
	keys := make([]string, 0, len(f.V))
	for k := range f.V {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, _ := strconv.Atoi(keys[i][1:])
		nj, _ := strconv.Atoi(keys[j][1:])
		if ni != nj {
			return ni < nj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// appendTo writes Amount, Time and the V fields in order.
func (f Features) appendTo(om *orderedmap.OrderedMap[string, any]) {
	om.Set("Amount", f.Amount)
	om.Set("Time", f.Time)
	for _, k := range f.FeatureKeys() {
		om.Set(k, f.V[k])
	}
}

func (f Features) MarshalJSON() ([]byte, error) {
	om := orderedmap.New[string, any]()
	f.appendTo(om)
	return json.Marshal(om)
}

func (f *Features) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*f = FeaturesFrom(fields)
	return nil
}

// FeaturesFrom picks Amount, Time and numeric V fields out of a decoded
// object. Missing or non-numeric Amount and Time are 0; non-numeric V
// fields are skipped.
func FeaturesFrom(fields map[string]any) Features {
	var f Features
	f.Amount, _ = Number(fields["Amount"])
	f.Time, _ = Number(fields["Time"])
	for k, v := range fields {
		if !IsFeatureKey(k) {
			continue
		}
		if n, ok := Number(v); ok {
			if f.V == nil {
				f.V = make(map[string]float64)
			}
			f.V[k] = n
		}
	}
	return f
}

// Number converts a decoded JSON value or form value to a finite float.
// Numeric strings are accepted.
func Number(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	case int32:
		n = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

// mustNumber is Number for form input, where a present but unusable value
// is an error rather than a default.
func mustNumber(field string, v any) (float64, error) {
	if v == nil {
		return 0, nil
	}
	if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
		return 0, nil
	}
	n, ok := Number(v)
	if !ok {
		return 0, fmt.Errorf("%s must be a number, got %v", field, v)
	}
	return n, nil
}
