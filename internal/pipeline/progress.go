package pipeline

import (
	"strings"
	"time"

	"github.com/acapellify/api/internal/model"
)

// ProgressMode selects how progress is reported while a run executes.
type ProgressMode string

const (
	// ProgressSynthetic emits fixed, time-based warm-up ticks before any
	// real work starts. It is the default.
	ProgressSynthetic ProgressMode = "synthetic"
	// ProgressStaged emits the cumulative stage weight after each stage.
	ProgressStaged ProgressMode = "staged"
)

// Warm-up used when a synthetic config leaves the tick count or interval unset.
const (
	DefaultWarmupTicks    = 100
	DefaultWarmupInterval = 100 * time.Millisecond
)

// ParseProgressMode falls back to synthetic for unknown values.
func ParseProgressMode(s string) ProgressMode {
	if ProgressMode(strings.ToLower(strings.TrimSpace(s))) == ProgressStaged {
		return ProgressStaged
	}
	return ProgressSynthetic
}

// emitter is the single producer side of a progress channel. It keeps
// percent non-decreasing and drops anything sent after the terminal event.
type emitter struct {
	ch      chan model.ProgressEvent
	percent float64
	done    bool
}

func newEmitter(capacity int) *emitter {
	return &emitter{ch: make(chan model.ProgressEvent, capacity)}
}

func (e *emitter) progress(percent float64, step string) {
	if e.done {
		return
	}
	if percent < e.percent {
		percent = e.percent
	}
	if percent > 100 {
		percent = 100
	}
	e.percent = percent
	e.ch <- model.ProgressEvent{Kind: model.EventProgress, Percent: percent, Step: step}
}

func (e *emitter) success(artifacts map[model.ArtifactRole]string) {
	if e.done {
		return
	}
	e.done = true
	e.percent = 100
	e.ch <- model.ProgressEvent{Kind: model.EventSuccess, Percent: 100, Artifacts: artifacts}
}

func (e *emitter) fail(msg string) {
	if e.done {
		return
	}
	e.done = true
	e.ch <- model.ProgressEvent{Kind: model.EventError, Percent: e.percent, Message: msg}
}

func (e *emitter) close() {
	close(e.ch)
}

// warmup emits ticks evenly spaced by interval. Percent of tick i is
// (i+1)/ticks*100.
func (e *emitter) warmup(ticks int, interval time.Duration) {
	if ticks <= 0 {
		return
	}
	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}
	for i := 0; i < ticks; i++ {
		if tick != nil {
			<-tick
		}
		e.progress(float64(i+1)/float64(ticks)*100, "warmup")
	}
}
