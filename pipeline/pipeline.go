package pipeline

import (
	"context"
	"fmt"
	"time"

	"videoflow/config"
	"videoflow/media"
	"videoflow/schedule"
	"videoflow/titles"
	"videoflow/transcribe"
	"videoflow/upload"
)

// Kind identifies a step. The set is closed: steps are resolved once at
// build time, never dispatched by string at run time.
type Kind string

const (
	KindTrimSilence    Kind = "trim_silence"
	KindAddSubtitles   Kind = "add_subtitles"
	KindCreateShorts   Kind = "create_shorts"
	KindGenerateTitles Kind = "generate_titles"
	KindUploadShorts   Kind = "upload_shorts"
)

// kindOrder fixes step execution order. Enabled steps always run in this
// order regardless of how the submission lists them.
var kindOrder = []Kind{
	KindTrimSilence,
	KindAddSubtitles,
	KindCreateShorts,
	KindGenerateTitles,
	KindUploadShorts,
}

// Config is the per-submission pipeline configuration.
type Config struct {
	// Steps maps step name to its enabled flag. Unknown names are
	// rejected, not ignored, to catch typos early.
	Steps map[string]bool `json:"steps"`

	// Optional per-submission overrides of service defaults.
	ShortsMax       int     `json:"shortsMax,omitempty"`
	ShortsLengthSec float64 `json:"shortsLengthSec,omitempty"`
}

// Validate rejects unknown step names and empty pipelines.
func (c Config) Validate() error {
	known := make(map[string]bool, len(kindOrder))
	for _, k := range kindOrder {
		known[string(k)] = true
	}
	enabled := 0
	for name, on := range c.Steps {
		if !known[name] {
			return &ConfigError{Reason: fmt.Sprintf("unknown step %q", name)}
		}
		if on {
			enabled++
		}
	}
	if enabled == 0 {
		return &ConfigError{Reason: "no steps enabled"}
	}
	if c.ShortsMax < 0 {
		return &ConfigError{Reason: "shortsMax must not be negative"}
	}
	if c.ShortsLengthSec < 0 {
		return &ConfigError{Reason: "shortsLengthSec must not be negative"}
	}
	return nil
}

// Step is one unit of pipeline work. Run consumes the exchange's current
// artifact and may replace it; it must not touch artifacts it does not own.
type Step interface {
	Kind() Kind
	Description() string
	Run(ctx context.Context, x *Exchange) error
}

// Media is the slice of the ffmpeg runner the steps consume.
type Media interface {
	Duration(ctx context.Context, input string) (float64, error)
	ExtractAudio(ctx context.Context, input, output string) error
	DetectSilence(ctx context.Context, input string, noiseDB float64, minLen time.Duration) ([]media.Span, error)
	CutSpans(ctx context.Context, input, output string, spans []media.Span) error
	BurnSubtitles(ctx context.Context, input, srt, output string) error
	ExtractClip(ctx context.Context, input, output string, start, length float64) error
}

// Deps carries the collaborators steps are built around.
type Deps struct {
	Media       Media
	Transcriber transcribe.Transcriber
	Titles      titles.Generator
	Uploader    upload.Uploader
	Plan        *schedule.Plan
	Cfg         *config.Config
}

// Build resolves a validated configuration into the ordered sequence of
// enabled steps. The result is deterministic for a given configuration.
func Build(c Config, deps Deps) ([]Step, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var steps []Step
	for _, kind := range kindOrder {
		if !c.Steps[string(kind)] {
			continue
		}
		switch kind {
		case KindTrimSilence:
			steps = append(steps, &trimSilenceStep{deps: deps})
		case KindAddSubtitles:
			steps = append(steps, &addSubtitlesStep{deps: deps})
		case KindCreateShorts:
			steps = append(steps, &createShortsStep{deps: deps, cfg: c})
		case KindGenerateTitles:
			steps = append(steps, &generateTitlesStep{deps: deps})
		case KindUploadShorts:
			steps = append(steps, &uploadShortsStep{deps: deps})
		}
	}
	return steps, nil
}

// Weights splits 100 progress points over n steps: floor(100/n) each,
// remainder on the last, so a full run lands exactly on 100.
func Weights(n int) []int {
	if n <= 0 {
		return nil
	}
	weights := make([]int, n)
	base := 100 / n
	for i := range weights {
		weights[i] = base
	}
	weights[n-1] += 100 - base*n
	return weights
}
