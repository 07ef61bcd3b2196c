package preprocessing

import (
	"math"
	"strconv"
	"strings"

	"github.com/clinix/sourceorder/pkg/errors"
)

// ColumnEncoders holds one LabelEncoder per categorical column, in column order.
type ColumnEncoders struct {
	order    CategoryOrder
	columns  []string
	encoders map[string]*LabelEncoder
}

// NewColumnEncoders creates an empty set using order for every column.
func NewColumnEncoders(order CategoryOrder) *ColumnEncoders {
	return &ColumnEncoders{order: order, encoders: make(map[string]*LabelEncoder)}
}

// NewColumnEncodersFromParams restores a fitted set.
func NewColumnEncodersFromParams(params []LabelEncoderParams) (*ColumnEncoders, error) {
	ce := NewColumnEncoders(OrderFirstSeen)
	for i, p := range params {
		enc, err := NewLabelEncoderFromParams(p)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			ce.order = enc.Order()
		}
		if err := ce.add(enc); err != nil {
			return nil, err
		}
	}
	return ce, nil
}

// Fit learns the vocabulary for column and appends it to the set.
func (ce *ColumnEncoders) Fit(column string, values []string) error {
	enc := NewLabelEncoder(column, ce.order)
	if err := enc.Fit(values); err != nil {
		return err
	}
	return ce.add(enc)
}

func (ce *ColumnEncoders) add(enc *LabelEncoder) error {
	if _, dup := ce.encoders[enc.Column()]; dup {
		return errors.NewSchemaError("ColumnEncoders.Fit", enc.Column(), "duplicate categorical column")
	}
	ce.columns = append(ce.columns, enc.Column())
	ce.encoders[enc.Column()] = enc
	return nil
}

// Get returns the encoder for column.
func (ce *ColumnEncoders) Get(column string) (*LabelEncoder, bool) {
	enc, ok := ce.encoders[column]
	return enc, ok
}

// Columns returns the categorical column names in fit order.
func (ce *ColumnEncoders) Columns() []string {
	return append([]string(nil), ce.columns...)
}

// Order returns the shared ordering rule.
func (ce *ColumnEncoders) Order() CategoryOrder { return ce.order }

// EncodeRow builds a numeric feature vector. features names each position in
// row; positions with an encoder are looked up, all others parsed as numbers.
func (ce *ColumnEncoders) EncodeRow(features, row []string) ([]float64, error) {
	if len(features) != len(row) {
		return nil, errors.NewDimensionError("ColumnEncoders.EncodeRow", len(features), len(row), 1)
	}

	out := make([]float64, len(row))
	for i, name := range features {
		if enc, ok := ce.encoders[name]; ok {
			code, err := enc.Transform(row[i])
			if err != nil {
				return nil, err
			}
			out[i] = float64(code)
			continue
		}
		v, err := ParseNumber(row[i])
		if err != nil {
			return nil, errors.NewSchemaError("ColumnEncoders.EncodeRow", name, "non-numeric value "+strconv.Quote(row[i]))
		}
		out[i] = v
	}
	return out, nil
}

// Params returns the persisted form of every encoder in column order.
func (ce *ColumnEncoders) Params() ([]LabelEncoderParams, error) {
	out := make([]LabelEncoderParams, 0, len(ce.columns))
	for _, c := range ce.columns {
		p, err := ce.encoders[c].Params()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseNumber parses a numeric cell. Surrounding spaces are ignored; NaN and
// infinities are rejected.
func ParseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.NewValueError("ParseNumber", "non-finite value "+strconv.Quote(s))
	}
	return v, nil
}
