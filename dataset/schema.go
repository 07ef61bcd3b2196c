package dataset

import (
	"sort"
	"strconv"
	"strings"

	"github.com/clinix/sourceorder/pkg/errors"
	"github.com/clinix/sourceorder/preprocessing"
)

// Kind is the type of a feature column.
type Kind int

const (
	Numeric Kind = iota
	Categorical
)

func (k Kind) String() string {
	if k == Categorical {
		return "categorical"
	}
	return "numeric"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "numeric":
		*k = Numeric
	case "categorical":
		*k = Categorical
	default:
		return errors.NewValidationError("kind", "must be numeric or categorical", string(b))
	}
	return nil
}

// Column is one feature of the schema.
type Column struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Schema is the ordered feature layout plus the target column name. The
// position of a feature in Features is its position in the model input.
type Schema struct {
	Features []Column `json:"features"`
	Target   string   `json:"target"`
}

// CanonicalFeatures is the nine-column clinic layout used by the firmware.
var CanonicalFeatures = []Column{
	{Name: "DailyPatients", Kind: Categorical},
	{Name: "Criticality", Kind: Categorical},
	{Name: "WeatherCondition", Kind: Categorical},
	{Name: "BatteryLevel", Kind: Numeric},
	{Name: "GridStatus", Kind: Categorical},
	{Name: "TimeOfDay", Kind: Categorical},
	{Name: "Temperature", Kind: Numeric},
	{Name: "Voltage", Kind: Numeric},
	{Name: "Current", Kind: Numeric},
}

// CanonicalFeatureNames returns the names of CanonicalFeatures.
func CanonicalFeatureNames() []string {
	out := make([]string, len(CanonicalFeatures))
	for i, c := range CanonicalFeatures {
		out[i] = c.Name
	}
	return out
}

// InferSchema types every feature column of t.
func (t *Table) InferSchema() Schema {
	s := Schema{Target: t.TargetName()}
	for j, name := range t.FeatureNames() {
		kind := Numeric
		numbers, bad := 0, ""
		for _, row := range t.Rows {
			if _, err := preprocessing.ParseNumber(row[j]); err != nil {
				if kind == Numeric {
					bad = row[j]
				}
				kind = Categorical
				continue
			}
			numbers++
		}
		if kind == Categorical && numbers > 0 {
			errors.Warn(errors.NewDataConversionWarning("numeric", "categorical",
				"column "+name+" has non-numeric cell "+strconv.Quote(bad)))
		}
		s.Features = append(s.Features, Column{Name: name, Kind: kind})
	}
	return s
}

// FeatureNames returns the feature names in model input order.
func (s Schema) FeatureNames() []string {
	out := make([]string, len(s.Features))
	for i, c := range s.Features {
		out[i] = c.Name
	}
	return out
}

// CategoricalColumns returns the categorical feature names in model input order.
func (s Schema) CategoricalColumns() []string {
	var out []string
	for _, c := range s.Features {
		if c.Kind == Categorical {
			out = append(out, c.Name)
		}
	}
	return out
}

// NumFeatures returns the model input width.
func (s Schema) NumFeatures() int { return len(s.Features) }

// Check verifies that expected lists exactly the feature names, in order.
// When expected is the canonical layout, the inferred column kinds must
// also match CanonicalFeatures.
func (s Schema) Check(expected []string) error {
	if len(expected) == 0 {
		return nil
	}
	names := s.FeatureNames()
	if len(names) != len(expected) {
		return errors.NewSchemaError("Schema.Check", "", "expected columns "+strings.Join(expected, ",")+", got "+strings.Join(names, ","))
	}
	for i := range expected {
		if names[i] != expected[i] {
			return errors.NewSchemaError("Schema.Check", expected[i], "column out of order, found "+names[i])
		}
	}
	if !isCanonical(expected) {
		return nil
	}
	for i, c := range CanonicalFeatures {
		if s.Features[i].Kind != c.Kind {
			return errors.NewSchemaError("Schema.Check", c.Name, "expected "+c.Kind.String()+" column, found "+s.Features[i].Kind.String())
		}
	}
	return nil
}

func isCanonical(names []string) bool {
	if len(names) != len(CanonicalFeatures) {
		return false
	}
	for i, c := range CanonicalFeatures {
		if names[i] != c.Name {
			return false
		}
	}
	return true
}

// Record is one inference input: field name to raw value.
type Record map[string]string

// Row orders r by the schema. A missing field or one the schema does not
// know is a SchemaError.
func (s Schema) Row(r Record) ([]string, error) {
	row := make([]string, len(s.Features))
	for i, c := range s.Features {
		v, ok := r[c.Name]
		if !ok {
			return nil, errors.NewSchemaError("Schema.Row", c.Name, "missing field")
		}
		row[i] = v
	}
	if len(r) != len(s.Features) {
		known := make(map[string]struct{}, len(s.Features))
		for _, c := range s.Features {
			known[c.Name] = struct{}{}
		}
		extra := make([]string, 0)
		for k := range r {
			if _, ok := known[k]; !ok {
				extra = append(extra, k)
			}
		}
		sort.Strings(extra)
		return nil, errors.NewSchemaError("Schema.Row", extra[0], "unexpected field")
	}
	return row, nil
}

// ParseRecord builds a Record from "Field=Value" arguments. The value may be
// empty or contain '='.
func ParseRecord(args []string) (Record, error) {
	r := make(Record, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, errors.NewValidationError("record", "expected Field=Value", a)
		}
		if _, dup := r[k]; dup {
			return nil, errors.NewSchemaError("ParseRecord", k, "field given twice")
		}
		r[k] = v
	}
	return r, nil
}
