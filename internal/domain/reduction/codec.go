package reduction

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Encoded is the persisted form of a Model. Mean and Components use gonum's
// binary matrix format and are empty for truncate-mode models.
type Encoded struct {
	Mode       Mode
	SourceDim  int
	TargetDim  int
	Samples    int
	Mean       []byte
	Components []byte
	CreatedAt  time.Time
}

// Encode serializes the model.
func (m *Model) Encode() (Encoded, error) {
	enc := Encoded{
		Mode:      m.mode,
		SourceDim: m.sourceDim,
		TargetDim: m.targetDim,
		Samples:   m.samples,
		CreatedAt: m.createdAt,
	}
	if m.mode != ModePCA {
		return enc, nil
	}
	var err error
	if enc.Mean, err = m.mean.MarshalBinary(); err != nil {
		return Encoded{}, fmt.Errorf("encode mean: %w", err)
	}
	if enc.Components, err = m.components.MarshalBinary(); err != nil {
		return Encoded{}, fmt.Errorf("encode components: %w", err)
	}
	return enc, nil
}

// Decode rebuilds a Model and checks its shape.
func Decode(enc Encoded) (*Model, error) {
	if !enc.Mode.Valid() {
		return nil, fmt.Errorf("decode: unknown mode %q", enc.Mode)
	}
	if err := checkDims(enc.SourceDim, enc.TargetDim); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	m := &Model{
		mode:      enc.Mode,
		sourceDim: enc.SourceDim,
		targetDim: enc.TargetDim,
		samples:   enc.Samples,
		createdAt: enc.CreatedAt,
	}
	if enc.Mode == ModeTruncate {
		return m, nil
	}

	var mean mat.VecDense
	if err := mean.UnmarshalBinary(enc.Mean); err != nil {
		return nil, fmt.Errorf("decode mean: %w", err)
	}
	var comps mat.Dense
	if err := comps.UnmarshalBinary(enc.Components); err != nil {
		return nil, fmt.Errorf("decode components: %w", err)
	}
	if mean.Len() != enc.SourceDim {
		return nil, fmt.Errorf("decode: mean has %d dims, want %d", mean.Len(), enc.SourceDim)
	}
	if r, c := comps.Dims(); r != enc.TargetDim || c != enc.SourceDim {
		return nil, fmt.Errorf("decode: components are %dx%d, want %dx%d", r, c, enc.TargetDim, enc.SourceDim)
	}
	m.mean = &mean
	m.components = &comps
	return m, nil
}
