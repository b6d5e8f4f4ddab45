package inference

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/acapellify/api/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

type stubModel struct {
	length int
	shape  error
	out    func(in []float64) ([]float64, error)
}

func (m *stubModel) Predict(_ context.Context, in []float64) ([]float64, error) {
	return m.out(in)
}

func (m *stubModel) InputLength(context.Context) (int, error) {
	return m.length, m.shape
}

type plainModel struct{}

func (plainModel) Predict(_ context.Context, in []float64) ([]float64, error) {
	return in, nil
}

func echo(in []float64) ([]float64, error) { return in, nil }

func TestNewAdapter_InputLength(t *testing.T) {
	ctx := context.Background()
	log := zap.NewNop()

	a, err := NewAdapter(ctx, &stubModel{length: 8, out: echo}, 100, log)
	require.NoError(t, err)
	assert.Equal(t, 8, a.InputLength())
	assert.True(t, a.Ready())

	a, err = NewAdapter(ctx, &stubModel{shape: errors.New("no metadata"), out: echo}, 100, log)
	require.NoError(t, err)
	assert.Equal(t, 100, a.InputLength())

	a, err = NewAdapter(ctx, plainModel{}, 0, log)
	require.NoError(t, err)
	assert.Equal(t, DefaultInputLength, a.InputLength())

	_, err = NewAdapter(ctx, nil, 100, log)
	var initErr *InitError
	assert.ErrorAs(t, err, &initErr)
}

func TestAdapter_Infer(t *testing.T) {
	ctx := context.Background()
	a, err := NewAdapter(ctx, &stubModel{length: 3, out: echo}, 100, zap.NewNop())
	require.NoError(t, err)

	out, err := a.Infer(ctx, features.Vector{60, 62, 0})
	require.NoError(t, err)
	assert.Equal(t, []float64{60, 62, 0}, out)

	_, err = a.Infer(ctx, features.Vector{60, 62})
	var infErr *Error
	assert.ErrorAs(t, err, &infErr)
}

func TestAdapter_InferRejectsBadOutput(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		out  func([]float64) ([]float64, error)
	}{
		{"empty output", func([]float64) ([]float64, error) { return nil, nil }},
		{"short output", func(in []float64) ([]float64, error) { return in[:1], nil }},
		{"model error", func([]float64) ([]float64, error) { return nil, errors.New("boom") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAdapter(ctx, &stubModel{length: 2, out: tt.out}, 100, zap.NewNop())
			require.NoError(t, err)

			_, err = a.Infer(ctx, features.Vector{1, 2})
			var infErr *Error
			assert.ErrorAs(t, err, &infErr)
		})
	}
}

func TestAdapter_NotReady(t *testing.T) {
	var a *Adapter
	assert.False(t, a.Ready())
	_, err := a.Infer(context.Background(), features.Vector{1})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestDense_Predict(t *testing.T) {
	d, err := NewDense("tiny", []Layer{
		{
			Weights:    mat.NewDense(2, 2, []float64{1, 0, 0, -1}),
			Bias:       mat.NewVecDense(2, []float64{0, 0}),
			Activation: ActivationReLU,
		},
		{
			Weights:    mat.NewDense(1, 2, []float64{2, 3}),
			Bias:       mat.NewVecDense(1, []float64{1}),
			Activation: ActivationLinear,
		},
	})
	require.NoError(t, err)

	out, err := d.Predict(context.Background(), []float64{4, 5})
	require.NoError(t, err)
	// relu([4, -5]) = [4, 0]; 2*4 + 3*0 + 1 = 9
	assert.Equal(t, []float64{9}, out)

	n, err := d.InputLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, d.OutputLength())

	_, err = d.Predict(context.Background(), []float64{1})
	assert.Error(t, err)
}

func TestNewDense_ShapeMismatch(t *testing.T) {
	_, err := NewDense("bad", []Layer{
		{Weights: mat.NewDense(3, 2, nil), Bias: mat.NewVecDense(3, nil)},
		{Weights: mat.NewDense(1, 4, nil), Bias: mat.NewVecDense(1, nil)},
	})
	assert.Error(t, err)

	_, err = NewDense("bad", []Layer{
		{Weights: mat.NewDense(1, 1, nil), Bias: mat.NewVecDense(1, nil), Activation: "softplus"},
	})
	assert.Error(t, err)
}

func TestWeights_SaveLoad(t *testing.T) {
	d, err := NewRandom("acapella", DefaultSizes, DefaultActivations, 7)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "model.msgpack")
	require.NoError(t, SaveWeights(path, d))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "acapella", loaded.Name)
	require.Len(t, loaded.Layers, 4)

	n, err := loaded.InputLength(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, 100, loaded.OutputLength())

	in := make([]float64, 100)
	for i := range in {
		in[i] = float64(40 + i%30)
	}
	want, err := d.Predict(context.Background(), in)
	require.NoError(t, err)
	got, err := loaded.Predict(context.Background(), in)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.msgpack"))
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
}

func TestNewRandom_Deterministic(t *testing.T) {
	a, err := NewRandom("m", []int{4, 3, 2}, []string{ActivationReLU, ActivationLinear}, 42)
	require.NoError(t, err)
	b, err := NewRandom("m", []int{4, 3, 2}, []string{ActivationReLU, ActivationLinear}, 42)
	require.NoError(t, err)
	assert.True(t, mat.Equal(a.Layers[0].Weights, b.Layers[0].Weights))

	_, err = NewRandom("m", []int{4}, nil, 1)
	assert.Error(t, err)
}
