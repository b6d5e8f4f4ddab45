package inference

import (
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

const weightsFormatVersion = 1

// weightsFile is the on-disk msgpack layout of a Dense network.
type weightsFile struct {
	Version int            `msgpack:"version"`
	Name    string         `msgpack:"name"`
	Layers  []layerWeights `msgpack:"layers"`
}

type layerWeights struct {
	In         int       `msgpack:"in"`
	Out        int       `msgpack:"out"`
	Activation string    `msgpack:"activation"`
	Weights    []float64 `msgpack:"weights"` // row-major, Out rows of In values
	Bias       []float64 `msgpack:"bias"`
}

// MarshalWeights encodes a network as msgpack.
func MarshalWeights(d *Dense) ([]byte, error) {
	f := weightsFile{Version: weightsFormatVersion, Name: d.Name}
	for _, l := range d.Layers {
		r, c := l.Weights.Dims()
		w := make([]float64, 0, r*c)
		for i := 0; i < r; i++ {
			w = append(w, mat.Row(nil, i, l.Weights)...)
		}
		b := make([]float64, r)
		for i := range b {
			b[i] = l.Bias.AtVec(i)
		}
		f.Layers = append(f.Layers, layerWeights{In: c, Out: r, Activation: l.Activation, Weights: w, Bias: b})
	}
	return msgpack.Marshal(&f)
}

// UnmarshalWeights decodes a network written by MarshalWeights.
func UnmarshalWeights(data []byte) (*Dense, error) {
	var f weightsFile
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode weights: %w", err)
	}
	if f.Version != weightsFormatVersion {
		return nil, fmt.Errorf("unsupported weights version %d", f.Version)
	}

	layers := make([]Layer, 0, len(f.Layers))
	for i, l := range f.Layers {
		if l.In < 1 || l.Out < 1 || len(l.Weights) != l.In*l.Out || len(l.Bias) != l.Out {
			return nil, fmt.Errorf("layer %d: weights do not match %dx%d", i, l.Out, l.In)
		}
		layers = append(layers, Layer{
			Weights:    mat.NewDense(l.Out, l.In, l.Weights),
			Bias:       mat.NewVecDense(l.Out, l.Bias),
			Activation: l.Activation,
		})
	}
	return NewDense(f.Name, layers)
}

// SaveWeights writes a network to path.
func SaveWeights(path string, d *Dense) error {
	data, err := MarshalWeights(d)
	if err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadFile reads a weights file. Any failure is an InitError.
func LoadFile(path string) (*Dense, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &InitError{Source: path, Err: err}
	}
	d, err := UnmarshalWeights(data)
	if err != nil {
		return nil, &InitError{Source: path, Err: err}
	}
	return d, nil
}
