package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/acapellify/api/internal/inference"
)

func genModelCommand() *cli.Command {
	return &cli.Command{
		Name:  "gen-model",
		Usage: "Write a randomly initialised weights file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Value: "acapella_model.msgpack", Usage: "output path"},
			&cli.Uint64Flag{Name: "seed", Value: 1, Usage: "random seed"},
			&cli.StringFlag{Name: "name", Value: "acapella", Usage: "model name stored in the file"},
		},
		Action: func(c *cli.Context) error {
			d, err := inference.NewRandom(c.String("name"), inference.DefaultSizes, inference.DefaultActivations, c.Uint64("seed"))
			if err != nil {
				return err
			}
			if err := inference.SaveWeights(c.String("out"), d); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "wrote %s (%d layers)\n", c.String("out"), len(d.Layers))
			return nil
		},
	}
}

type layerSummary struct {
	Inputs     int    `yaml:"inputs"`
	Outputs    int    `yaml:"outputs"`
	Activation string `yaml:"activation"`
}

type modelSummary struct {
	Name         string         `yaml:"name"`
	InputLength  int            `yaml:"input_length"`
	OutputLength int            `yaml:"output_length"`
	Parameters   int            `yaml:"parameters"`
	Layers       []layerSummary `yaml:"layers"`
}

func summarize(d *inference.Dense) (modelSummary, error) {
	in, err := d.InputLength(context.Background())
	if err != nil {
		return modelSummary{}, err
	}
	s := modelSummary{Name: d.Name, InputLength: in, OutputLength: d.OutputLength()}
	for _, l := range d.Layers {
		r, c := l.Weights.Dims()
		s.Parameters += r*c + l.Bias.Len()
		s.Layers = append(s.Layers, layerSummary{Inputs: c, Outputs: r, Activation: l.Activation})
	}
	return s, nil
}

func inspectModelCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-model",
		Usage: "Print layer shapes of a weights file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Value: "acapella_model.msgpack", Usage: "weights file"},
		},
		Action: func(c *cli.Context) error {
			d, err := inference.LoadFile(c.String("model"))
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			s, err := summarize(d)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(c.App.Writer)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(s)
		},
	}
}
