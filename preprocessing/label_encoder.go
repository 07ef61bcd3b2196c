package preprocessing

import (
	"sort"

	"github.com/clinix/sourceorder/core/model"
	"github.com/clinix/sourceorder/pkg/errors"
)

// Unknown is the code returned by Code for a value outside the vocabulary.
const Unknown = -1

// CategoryOrder decides how observed strings are numbered.
type CategoryOrder string

const (
	// OrderFirstSeen numbers categories by first appearance in the data.
	OrderFirstSeen CategoryOrder = "first_seen"
	// OrderLexical numbers categories by byte-wise sorted value.
	OrderLexical CategoryOrder = "lexical"
)

// ParseCategoryOrder validates a configured ordering rule. Empty means OrderFirstSeen.
func ParseCategoryOrder(s string) (CategoryOrder, error) {
	switch CategoryOrder(s) {
	case "", OrderFirstSeen:
		return OrderFirstSeen, nil
	case OrderLexical:
		return OrderLexical, nil
	default:
		return "", errors.NewValidationError("encoding.category_order", "must be first_seen or lexical", s)
	}
}

// LabelEncoder maps the distinct strings of one column to codes in [0, k).
// Matching is byte-exact: no trimming or case folding.
type LabelEncoder struct {
	state   *model.StateManager
	column  string
	order   CategoryOrder
	classes []string
	index   map[string]int
}

// LabelEncoderParams is the persisted form of a fitted LabelEncoder.
// Classes[i] is the value with code i.
type LabelEncoderParams struct {
	Column  string        `json:"column"`
	Order   CategoryOrder `json:"order"`
	Classes []string      `json:"classes"`
}

// NewLabelEncoder creates an unfitted encoder for column.
func NewLabelEncoder(column string, order CategoryOrder) *LabelEncoder {
	if order == "" {
		order = OrderFirstSeen
	}
	return &LabelEncoder{
		state:  model.NewStateManager("LabelEncoder"),
		column: column,
		order:  order,
	}
}

// NewLabelEncoderFromParams restores a fitted encoder.
func NewLabelEncoderFromParams(p LabelEncoderParams) (*LabelEncoder, error) {
	if len(p.Classes) == 0 {
		return nil, errors.NewModelError("LabelEncoder.Load", "empty vocabulary for column "+p.Column, errors.ErrEmptyData)
	}
	order, err := ParseCategoryOrder(string(p.Order))
	if err != nil {
		return nil, err
	}

	e := NewLabelEncoder(p.Column, order)
	e.index = make(map[string]int, len(p.Classes))
	for i, c := range p.Classes {
		if _, dup := e.index[c]; dup {
			return nil, errors.NewValidationError("classes", "duplicate category in column "+p.Column, c)
		}
		e.index[c] = i
	}
	e.classes = append([]string(nil), p.Classes...)
	e.state.SetDimensions(1, 0)
	e.state.SetFitted()
	return e, nil
}

// Fit learns the vocabulary of values.
func (e *LabelEncoder) Fit(values []string) error {
	if len(values) == 0 {
		return errors.NewModelError("LabelEncoder.Fit", "empty data for column "+e.column, errors.ErrEmptyData)
	}

	seen := make(map[string]struct{})
	classes := make([]string, 0)
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		classes = append(classes, v)
	}
	if e.order == OrderLexical {
		sort.Strings(classes)
	}

	e.classes = classes
	e.index = make(map[string]int, len(classes))
	for i, c := range classes {
		e.index[c] = i
	}
	e.state.SetDimensions(1, len(values))
	e.state.SetFitted()
	return nil
}

// FitTransform fits on values and returns their codes.
func (e *LabelEncoder) FitTransform(values []string) ([]int, error) {
	if err := e.Fit(values); err != nil {
		return nil, err
	}
	return e.TransformAll(values)
}

// Transform returns the code of value, or an UnknownCategoryError.
func (e *LabelEncoder) Transform(value string) (int, error) {
	if err := e.state.RequireFitted("Transform"); err != nil {
		return Unknown, err
	}
	code, ok := e.index[value]
	if !ok {
		return Unknown, errors.NewUnknownCategoryError(e.column, value)
	}
	return code, nil
}

// TransformAll encodes every value, failing on the first unknown one.
func (e *LabelEncoder) TransformAll(values []string) ([]int, error) {
	out := make([]int, len(values))
	for i, v := range values {
		code, err := e.Transform(v)
		if err != nil {
			return nil, err
		}
		out[i] = code
	}
	return out, nil
}

// Code returns the code of value or Unknown.
func (e *LabelEncoder) Code(value string) int {
	if code, ok := e.index[value]; ok {
		return code
	}
	return Unknown
}

// InverseTransform maps a code back to its category.
func (e *LabelEncoder) InverseTransform(code int) (string, error) {
	if err := e.state.RequireFitted("InverseTransform"); err != nil {
		return "", err
	}
	if code < 0 || code >= len(e.classes) {
		return "", errors.NewValueError("LabelEncoder.InverseTransform", "code out of range for column "+e.column)
	}
	return e.classes[code], nil
}

// Classes returns the categories in code order.
func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}

// Len returns the vocabulary size.
func (e *LabelEncoder) Len() int { return len(e.classes) }

// Column returns the column this encoder was built for.
func (e *LabelEncoder) Column() string { return e.column }

// Order returns the ordering rule used at fit time.
func (e *LabelEncoder) Order() CategoryOrder { return e.order }

// IsFitted reports whether Fit has been called.
func (e *LabelEncoder) IsFitted() bool { return e.state.IsFitted() }

// Params returns the persisted form of the encoder.
func (e *LabelEncoder) Params() (LabelEncoderParams, error) {
	if err := e.state.RequireFitted("Params"); err != nil {
		return LabelEncoderParams{}, err
	}
	return LabelEncoderParams{Column: e.column, Order: e.order, Classes: e.Classes()}, nil
}
