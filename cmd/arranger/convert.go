package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/acapellify/api/internal/artifact"
	"github.com/acapellify/api/internal/cleanup"
	"github.com/acapellify/api/internal/inference"
	"github.com/acapellify/api/internal/logger"
	"github.com/acapellify/api/internal/model"
	"github.com/acapellify/api/internal/pipeline"
	"github.com/acapellify/api/internal/score"
)

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "Run one conversion locally and copy the results to a directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "in", Required: true, Usage: "score file (mscz, musicxml, xml, mid, midi)"},
			&cli.StringFlag{Name: "out", Value: ".", Usage: "output directory"},
			&cli.StringFlag{Name: "model", Value: "acapella_model.msgpack", Usage: "weights file"},
			&cli.IntFlag{Name: "voices", Value: model.DefaultVoices, Usage: "number of voices"},
			&cli.StringFlag{Name: "style", Value: model.DefaultStyle, Usage: "arrangement style"},
			&cli.StringFlag{Name: "voicing", Value: string(model.VoicingUnison), Usage: "unison or octaves"},
			&cli.StringFlag{Name: "progress", Value: string(pipeline.ProgressSynthetic), Usage: "synthetic warm-up or staged progress"},
			&cli.BoolFlag{Name: "tui", Usage: "show an interactive progress bar"},
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "debug, info, warn or error"},
		},
		Action: convertAction,
	}
}

func convertAction(c *cli.Context) error {
	in := c.String("in")
	data, err := os.ReadFile(in)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if c.Int("voices") < 1 {
		return cli.Exit("--voices must be at least 1", 1)
	}

	level := c.String("log-level")
	if c.Bool("tui") {
		level = "error"
	}
	log := logger.New(level, "development")
	defer log.Sync()

	ctx := c.Context
	dense, err := inference.LoadFile(c.String("model"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	adapter, err := inference.NewAdapter(ctx, dense, inference.DefaultInputLength, log)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	workdir, err := os.MkdirTemp("", "arranger-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(workdir)

	store, err := artifact.NewStore(workdir, time.Hour, log)
	if err != nil {
		return err
	}
	scheduler := cleanup.NewTimerScheduler(store, log)
	defer scheduler.Close()

	orchestrator := pipeline.New(score.Codec{}, adapter, store, scheduler, pipeline.Config{Mode: pipeline.ParseProgressMode(c.String("progress")), Retention: time.Hour}, log)
	job := &model.ConversionJob{
		ID:    uuid.New().String(),
		Score: data,
		Params: model.ConversionParams{
			Voices:  c.Int("voices"),
			Style:   c.String("style"),
			Voicing: model.Voicing(c.String("voicing")),
		},
	}
	events := orchestrator.Run(ctx, job)

	var final model.ProgressEvent
	if c.Bool("tui") {
		final, err = runProgressUI(filepath.Base(in), events)
		if err != nil {
			return err
		}
	} else {
		final = printProgress(c.App.Writer, events)
	}

	if final.Kind != model.EventSuccess {
		return cli.Exit("conversion failed: "+final.Message, 1)
	}
	return copyResults(c.App.Writer, final.Artifacts, c.String("out"), in, log)
}

func printProgress(w io.Writer, events <-chan model.ProgressEvent) model.ProgressEvent {
	var last model.ProgressEvent
	for ev := range events {
		if ev.Kind == model.EventProgress && ev.Step != "" {
			fmt.Fprintf(w, "%5.1f%%  %s\n", ev.Percent, ev.Step)
		}
		last = ev
	}
	return last
}

func runProgressUI(title string, events <-chan model.ProgressEvent) (model.ProgressEvent, error) {
	final, err := tea.NewProgram(newProgressModel(title, events)).Run()
	if err != nil {
		return model.ProgressEvent{}, err
	}
	m := final.(progressModel)
	if m.aborted {
		// Drain so the run can finish writing before the temp dir goes away.
		for ev := range events {
			m.last = ev
		}
	}
	return m.last, nil
}

// copyResults copies artifacts out of the temporary store, naming them
// after the input file.
func copyResults(w io.Writer, artifacts map[model.ArtifactRole]string, outDir, input string, log *zap.Logger) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))

	roles := make([]string, 0, len(artifacts))
	for role := range artifacts {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)

	for _, role := range roles {
		src := artifacts[model.ArtifactRole(role)]
		dst := filepath.Join(outDir, fmt.Sprintf("%s_%s%s", base, role, filepath.Ext(src)))
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("copy %s: %w", role, err)
		}
		log.Debug("artifact copied", zap.String("role", role), zap.String("path", dst))
		fmt.Fprintf(w, "%-12s %s\n", role, dst)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
