package quantize

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/clinix/sourceorder/pkg/errors"
)

// FormatVersion is the version written by MarshalBinary.
const FormatVersion uint16 = 1

var magic = [4]byte{'S', 'O', 'Q', '8'}

// maxTensor bounds allocations when decoding untrusted input.
const maxTensor = 1 << 24

type fileHeader struct {
	Magic   [4]byte
	Version uint16
	NLayers uint16
}

type layerHeader struct {
	Inputs      uint32
	Outputs     uint32
	ReLU        uint8
	WeightScale float64
	InScale     float64
	InZero      int32
	OutScale    float64
	OutZero     int32
}

// MarshalBinary encodes the model as little-endian "SOQ8" data.
func (m *Model) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo implements io.WriterTo.
func (m *Model) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	le := binary.LittleEndian

	if err := binary.Write(cw, le, fileHeader{Magic: magic, Version: FormatVersion, NLayers: uint16(len(m.Layers))}); err != nil {
		return cw.n, errors.Wrap(err, "write header")
	}
	for _, l := range m.Layers {
		h := layerHeader{
			Inputs:      uint32(l.Inputs),
			Outputs:     uint32(l.Outputs),
			WeightScale: l.WeightScale,
			InScale:     l.Input.Scale,
			InZero:      l.Input.ZeroPoint,
			OutScale:    l.Output.Scale,
			OutZero:     l.Output.ZeroPoint,
		}
		if l.ReLU {
			h.ReLU = 1
		}
		for _, v := range []any{h, l.Weights, l.Bias} {
			if err := binary.Write(cw, le, v); err != nil {
				return cw.n, errors.Wrap(err, "write layer")
			}
		}
	}
	return cw.n, nil
}

// UnmarshalBinary decodes data written by MarshalBinary.
func (m *Model) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	le := binary.LittleEndian

	var fh fileHeader
	if err := binary.Read(r, le, &fh); err != nil {
		return errors.Wrap(err, "read header")
	}
	if fh.Magic != magic {
		return errors.NewValueError("Model.UnmarshalBinary", "not a quantized model file")
	}
	if fh.Version != FormatVersion {
		return errors.NewValidationError("version", "unsupported quantized model version", fh.Version)
	}
	if fh.NLayers == 0 {
		return errors.NewValueError("Model.UnmarshalBinary", "model has no layers")
	}

	layers := make([]Layer, fh.NLayers)
	for i := range layers {
		var h layerHeader
		if err := binary.Read(r, le, &h); err != nil {
			return errors.Wrap(err, "read layer header")
		}
		size := uint64(h.Inputs) * uint64(h.Outputs)
		if size == 0 || size > maxTensor {
			return errors.NewValueError("Model.UnmarshalBinary", "invalid layer size")
		}
		if i > 0 && layers[i-1].Outputs != int(h.Inputs) {
			return errors.NewDimensionError("Model.UnmarshalBinary", layers[i-1].Outputs, int(h.Inputs), 1)
		}
		if h.InScale <= 0 || h.OutScale <= 0 || h.WeightScale <= 0 {
			return errors.NewValueError("Model.UnmarshalBinary", "non-positive scale")
		}

		l := Layer{
			Inputs:      int(h.Inputs),
			Outputs:     int(h.Outputs),
			Weights:     make([]int8, size),
			WeightScale: h.WeightScale,
			Bias:        make([]int32, h.Outputs),
			Input:       Params{Scale: h.InScale, ZeroPoint: h.InZero},
			Output:      Params{Scale: h.OutScale, ZeroPoint: h.OutZero},
			ReLU:        h.ReLU == 1,
		}
		if err := binary.Read(r, le, l.Weights); err != nil {
			return errors.Wrap(err, "read weights")
		}
		if err := binary.Read(r, le, l.Bias); err != nil {
			return errors.Wrap(err, "read bias")
		}
		layers[i] = l
	}
	if r.Len() != 0 {
		return errors.NewValueError("Model.UnmarshalBinary", "trailing data")
	}

	m.Layers = layers
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
