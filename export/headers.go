package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/clinix/sourceorder/pkg/errors"
	"github.com/clinix/sourceorder/preprocessing"
)

// File names written by the export stage.
const (
	ScalerFile    = "scaler.h"
	LabelsFile    = "labels.h"
	EncodersFile  = "encoders.h"
	ModelDataFile = "model_data.h"
)

// DefaultModelSymbol names the model byte array in model_data.h.
const DefaultModelSymbol = "model_data"

// ScalerHeader writes scaler_mean and scaler_scale. features names each
// position and is listed in a comment so the firmware can check its order.
func ScalerHeader(w io.Writer, features []string, p preprocessing.ScalerParams) error {
	if len(p.Mean) == 0 || len(p.Mean) != len(p.Scale) {
		return errors.NewDimensionError("ScalerHeader", len(p.Mean), len(p.Scale), 1)
	}
	if len(features) != len(p.Mean) {
		return errors.NewDimensionError("ScalerHeader", len(p.Mean), len(features), 1)
	}

	var b strings.Builder
	b.WriteString("// Auto-generated scaler parameters\n")
	b.WriteString("#pragma once\n")
	names := make([]string, len(features))
	for i, f := range features {
		names[i] = SanitizeASCII(f)
	}
	fmt.Fprintf(&b, "// feature order: %s\n", strings.Join(names, ", "))
	fmt.Fprintf(&b, "const float scaler_mean[%d] = { %s };\n", len(p.Mean), joinFloats(p.Mean))
	fmt.Fprintf(&b, "const float scaler_scale[%d] = { %s };\n", len(p.Scale), joinFloats(p.Scale))

	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "write scaler header")
}

func joinFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = FormatFloat(v)
	}
	return strings.Join(parts, ", ")
}

// LabelsHeader writes y_labels in target-encoder index order.
func LabelsHeader(w io.Writer, labels []string) error {
	if len(labels) == 0 {
		return errors.NewModelError("LabelsHeader", "no class labels", errors.ErrEmptyData)
	}

	var b strings.Builder
	b.WriteString("// Auto-generated class labels\n")
	b.WriteString("#pragma once\n")
	fmt.Fprintf(&b, "const char* y_labels[%d] = {\n", len(labels))
	for _, l := range labels {
		fmt.Fprintf(&b, "  %s,\n", CString(l))
	}
	b.WriteString("};\n")

	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "write labels header")
}

// EncodersHeader writes one encode_<Column> lookup per encoder. Each returns
// the training code of an exact match and -1 otherwise.
func EncodersHeader(w io.Writer, encoders []preprocessing.LabelEncoderParams) error {
	var b strings.Builder
	b.WriteString("// Auto-generated categorical encoders\n")
	b.WriteString("#pragma once\n")
	b.WriteString("#include <string.h>\n\n")

	seen := make(map[string]string, len(encoders))
	for _, enc := range encoders {
		fn := "encode_" + CIdentifier(enc.Column)
		if prev, dup := seen[fn]; dup {
			return errors.NewSchemaError("EncodersHeader", enc.Column, "C function name collides with column "+prev)
		}
		seen[fn] = enc.Column

		literals := make(map[string]string, len(enc.Classes))
		fmt.Fprintf(&b, "int %s(const char* s) {\n", fn)
		for code, c := range enc.Classes {
			lit := CString(c)
			// two categories that differ only outside ASCII would be indistinguishable
			if prev, dup := literals[lit]; dup {
				return errors.NewSchemaError("EncodersHeader", enc.Column,
					fmt.Sprintf("categories %q and %q are identical after ASCII sanitizing", prev, c))
			}
			literals[lit] = c
			fmt.Fprintf(&b, "  if (strcmp(s, %s) == 0) return %d;\n", lit, code)
		}
		b.WriteString("  return -1; // unknown\n")
		b.WriteString("}\n\n")
	}

	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "write encoders header")
}

// ModelDataHeader writes data as <symbol>[] and its length as <symbol>_len.
func ModelDataHeader(w io.Writer, symbol string, data []byte) error {
	if len(data) == 0 {
		return errors.NewModelError("ModelDataHeader", "no model data", errors.ErrEmptyData)
	}
	if symbol == "" {
		symbol = DefaultModelSymbol
	}
	symbol = CIdentifier(symbol)

	var b strings.Builder
	b.Grow(len(data) * 5)
	b.WriteString("// Auto-generated quantized model\n")
	b.WriteString("#pragma once\n")
	fmt.Fprintf(&b, "const unsigned char %s[] = {", symbol)
	for i, v := range data {
		if i%16 == 0 {
			b.WriteString("\n  ")
		} else {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d,", v)
	}
	b.WriteString("\n};\n")
	fmt.Fprintf(&b, "const unsigned int %s_len = %d;\n", symbol, len(data))

	_, err := io.WriteString(w, b.String())
	return errors.Wrap(err, "write model header")
}
