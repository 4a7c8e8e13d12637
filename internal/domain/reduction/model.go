// Package reduction holds the linear projection that maps raw embeddings onto
// the width the vector index supports.
package reduction

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/kailas-cloud/vecstore/internal/domain"
)

// Mode is how a model maps raw vectors to the target width.
type Mode string

// Supported modes.
const (
	ModePCA      Mode = "pca"
	ModeTruncate Mode = "truncate"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModePCA || m == ModeTruncate }

// Model is an immutable projection for one (tenant, collection).
// For PCA, components is targetDim×sourceDim and rows are principal axes.
type Model struct {
	mode       Mode
	sourceDim  int
	targetDim  int
	samples    int
	mean       *mat.VecDense
	components *mat.Dense
	createdAt  time.Time
}

// NewTruncate creates a model that keeps the first targetDim components.
func NewTruncate(sourceDim, targetDim, samples int) (*Model, error) {
	if err := checkDims(sourceDim, targetDim); err != nil {
		return nil, err
	}
	return &Model{
		mode:      ModeTruncate,
		sourceDim: sourceDim,
		targetDim: targetDim,
		samples:   samples,
		createdAt: time.Now().UTC(),
	}, nil
}

// Fit learns a PCA projection from vectors. It needs at least targetDim samples.
func Fit(vectors [][]float32, targetDim int) (*Model, error) {
	n := len(vectors)
	if n == 0 {
		return nil, fmt.Errorf("fit: no samples")
	}
	d := len(vectors[0])
	if err := checkDims(d, targetDim); err != nil {
		return nil, err
	}
	if n < targetDim {
		return nil, fmt.Errorf("fit: %d samples for %d components", n, targetDim)
	}

	x := mat.NewDense(n, d, nil)
	for i, v := range vectors {
		if len(v) != d {
			return nil, fmt.Errorf("fit: vector %d has %d dims, want %d: %w",
				i, len(v), d, domain.ErrVectorDimMismatch)
		}
		for j, f := range v {
			x.Set(i, j, float64(f))
		}
	}

	mean := mat.NewVecDense(d, nil)
	for j := range d {
		mean.SetVec(j, stat.Mean(mat.Col(nil, j, x), nil))
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, fmt.Errorf("fit: principal component decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	// vecs is d×min(n,d) with axes as columns; keep the leading targetDim.
	comps := mat.DenseCopyOf(vecs.Slice(0, d, 0, targetDim).T())
	flipSigns(comps)

	return &Model{
		mode:       ModePCA,
		sourceDim:  d,
		targetDim:  targetDim,
		samples:    n,
		mean:       mean,
		components: comps,
		createdAt:  time.Now().UTC(),
	}, nil
}

// flipSigns makes the largest-magnitude loading of every axis positive so
// that two fits on the same data produce the same model.
func flipSigns(comps *mat.Dense) {
	rows, cols := comps.Dims()
	for i := range rows {
		best, bestAbs := 0.0, -1.0
		for j := range cols {
			v := comps.At(i, j)
			if a := math.Abs(v); a > bestAbs {
				best, bestAbs = v, a
			}
		}
		if best < 0 {
			for j := range cols {
				comps.Set(i, j, -comps.At(i, j))
			}
		}
	}
}

// Mode returns the projection mode.
func (m *Model) Mode() Mode { return m.mode }

// SourceDim returns the raw embedding width.
func (m *Model) SourceDim() int { return m.sourceDim }

// TargetDim returns the reduced width.
func (m *Model) TargetDim() int { return m.targetDim }

// Samples returns how many vectors the model was built from.
func (m *Model) Samples() int { return m.samples }

// CreatedAt returns when the model was built.
func (m *Model) CreatedAt() time.Time { return m.createdAt }

// Apply projects every vector. Output is deterministic for a given model.
func (m *Model) Apply(vectors [][]float32) ([][]float32, error) {
	out := make([][]float32, len(vectors))
	for i, v := range vectors {
		r, err := m.ApplyOne(v)
		if err != nil {
			return nil, fmt.Errorf("vector %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}

// ApplyOne projects a single vector.
func (m *Model) ApplyOne(v []float32) ([]float32, error) {
	if len(v) != m.sourceDim {
		return nil, fmt.Errorf("got %d dims, model expects %d: %w",
			len(v), m.sourceDim, domain.ErrVectorDimMismatch)
	}
	if m.mode == ModeTruncate {
		return Truncate(v, m.targetDim), nil
	}

	centered := mat.NewVecDense(m.sourceDim, nil)
	for j, f := range v {
		centered.SetVec(j, float64(f)-m.mean.AtVec(j))
	}
	var proj mat.VecDense
	proj.MulVec(m.components, centered)

	out := make([]float32, m.targetDim)
	for i := range out {
		out[i] = float32(proj.AtVec(i))
	}
	return out, nil
}

// Truncate returns a copy of the first width components of v.
func Truncate(v []float32, width int) []float32 {
	if len(v) <= width {
		return append([]float32(nil), v...)
	}
	return append([]float32(nil), v[:width]...)
}

func checkDims(sourceDim, targetDim int) error {
	if targetDim <= 0 || sourceDim <= 0 {
		return fmt.Errorf("invalid dimensions %d->%d", sourceDim, targetDim)
	}
	if targetDim > sourceDim {
		return fmt.Errorf("target %d exceeds source %d", targetDim, sourceDim)
	}
	return nil
}
