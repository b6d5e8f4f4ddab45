package inference

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// Activation names accepted in weight files.
const (
	ActivationReLU    = "relu"
	ActivationLinear  = "linear"
	ActivationSigmoid = "sigmoid"
	ActivationTanh    = "tanh"
)

// Layer is one fully connected layer: y = act(W x + b).
type Layer struct {
	Weights    *mat.Dense    // out x in
	Bias       *mat.VecDense // out
	Activation string
}

// Dense is a feed-forward network of fully connected layers. It is
// read-only after construction and safe for concurrent Predict calls.
type Dense struct {
	Name   string
	Layers []Layer
}

// NewDense checks that consecutive layer shapes line up.
func NewDense(name string, layers []Layer) (*Dense, error) {
	if len(layers) == 0 {
		return nil, errors.New("dense network has no layers")
	}
	for i, l := range layers {
		if l.Weights == nil || l.Bias == nil {
			return nil, fmt.Errorf("layer %d: missing weights", i)
		}
		r, c := l.Weights.Dims()
		if l.Bias.Len() != r {
			return nil, fmt.Errorf("layer %d: bias length %d, want %d", i, l.Bias.Len(), r)
		}
		if i > 0 {
			prev, _ := layers[i-1].Weights.Dims()
			if c != prev {
				return nil, fmt.Errorf("layer %d: input width %d, previous layer emits %d", i, c, prev)
			}
		}
		if _, err := activationFunc(l.Activation); err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return &Dense{Name: name, Layers: layers}, nil
}

// InputLength returns the width of the first layer.
func (d *Dense) InputLength(context.Context) (int, error) {
	_, c := d.Layers[0].Weights.Dims()
	return c, nil
}

// OutputLength returns the width of the last layer.
func (d *Dense) OutputLength() int {
	r, _ := d.Layers[len(d.Layers)-1].Weights.Dims()
	return r
}

// Predict runs a forward pass.
func (d *Dense) Predict(ctx context.Context, input []float64) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, in := d.Layers[0].Weights.Dims()
	if len(input) != in {
		return nil, fmt.Errorf("input width %d, want %d", len(input), in)
	}

	x := mat.NewVecDense(in, append([]float64(nil), input...))
	for _, l := range d.Layers {
		r, _ := l.Weights.Dims()
		y := mat.NewVecDense(r, nil)
		y.MulVec(l.Weights, x)
		y.AddVec(y, l.Bias)

		act, _ := activationFunc(l.Activation)
		for i := 0; i < r; i++ {
			y.SetVec(i, act(y.AtVec(i)))
		}
		x = y
	}

	out := make([]float64, x.Len())
	for i := range out {
		out[i] = x.AtVec(i)
	}
	return out, nil
}

func activationFunc(name string) (func(float64) float64, error) {
	switch name {
	case ActivationReLU:
		return func(v float64) float64 { return math.Max(0, v) }, nil
	case ActivationLinear, "":
		return func(v float64) float64 { return v }, nil
	case ActivationSigmoid:
		return func(v float64) float64 { return 1 / (1 + math.Exp(-v)) }, nil
	case ActivationTanh:
		return math.Tanh, nil
	default:
		return nil, fmt.Errorf("unknown activation %q", name)
	}
}

// DefaultSizes and DefaultActivations describe the stock network:
// 100 -> 64 -> 32 -> 16 -> 100, relu on the hidden layers.
var (
	DefaultSizes       = []int{100, 64, 32, 16, 100}
	DefaultActivations = []string{ActivationReLU, ActivationReLU, ActivationReLU, ActivationLinear}
)

// NewRandom builds a network with Glorot-uniform weights and zero biases.
// sizes has one more entry than activations.
func NewRandom(name string, sizes []int, activations []string, seed uint64) (*Dense, error) {
	if len(sizes) < 2 || len(activations) != len(sizes)-1 {
		return nil, fmt.Errorf("need n+1 sizes for n activations, got %d and %d", len(sizes), len(activations))
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	layers := make([]Layer, 0, len(activations))
	for i, act := range activations {
		in, out := sizes[i], sizes[i+1]
		if in < 1 || out < 1 {
			return nil, fmt.Errorf("layer %d: invalid size %dx%d", i, out, in)
		}
		limit := math.Sqrt(6 / float64(in+out))
		w := make([]float64, in*out)
		for j := range w {
			w[j] = (rng.Float64()*2 - 1) * limit
		}
		layers = append(layers, Layer{
			Weights:    mat.NewDense(out, in, w),
			Bias:       mat.NewVecDense(out, nil),
			Activation: act,
		})
	}
	return NewDense(name, layers)
}
