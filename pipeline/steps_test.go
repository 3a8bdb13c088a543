package pipeline

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"videoflow/artifact"
	"videoflow/config"
	"videoflow/media"
	"videoflow/schedule"
	"videoflow/task"
	"videoflow/titles"
	"videoflow/transcribe"
	"videoflow/upload"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMedia records calls and fabricates output files.
type fakeMedia struct {
	duration float64
	silences []media.Span
	cutCalls int
}

func (f *fakeMedia) Duration(ctx context.Context, input string) (float64, error) {
	return f.duration, nil
}

func (f *fakeMedia) ExtractAudio(ctx context.Context, input, output string) error {
	return os.WriteFile(output, []byte("wav"), 0o644)
}

func (f *fakeMedia) DetectSilence(ctx context.Context, input string, noiseDB float64, minLen time.Duration) ([]media.Span, error) {
	return f.silences, nil
}

func (f *fakeMedia) CutSpans(ctx context.Context, input, output string, spans []media.Span) error {
	f.cutCalls++
	return os.WriteFile(output, []byte("video"), 0o644)
}

func (f *fakeMedia) BurnSubtitles(ctx context.Context, input, srt, output string) error {
	return os.WriteFile(output, []byte("video+subs"), 0o644)
}

func (f *fakeMedia) ExtractClip(ctx context.Context, input, output string, start, length float64) error {
	return os.WriteFile(output, []byte("clip"), 0o644)
}

type fakeTranscriber struct {
	segments []transcribe.Segment
	err      error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string) ([]transcribe.Segment, error) {
	return f.segments, f.err
}

type fakeTitles struct {
	meta  titles.Metadata
	err   error
	calls int
}

func (f *fakeTitles) Generate(ctx context.Context, transcript string) (titles.Metadata, error) {
	f.calls++
	return f.meta, f.err
}

type fakeUploader struct {
	ids   []string
	err   error
	calls int
}

func (f *fakeUploader) Upload(ctx context.Context, videoPath string, meta upload.Metadata, publishAt time.Time) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.ids[f.calls-1], nil
}

func testDeps(t *testing.T, m Media) (Deps, *artifact.Store) {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir())
	require.NoError(t, err)
	cfg := &config.Config{
		SilenceNoiseDB: -35,
		SilenceMinLen:  800 * time.Millisecond,
		SilencePadding: 200 * time.Millisecond,
		ShortsMax:      3,
		ShortsLength:   45 * time.Second,
		StepRetries:    2,
		UploadPrivacy:  "private",
		UploadCategory: "22",
	}
	return Deps{Media: m, Cfg: cfg, Plan: schedule.Default()}, store
}

func TestTrimSilenceStep(t *testing.T) {
	t.Run("cuts around detected silence", func(t *testing.T) {
		m := &fakeMedia{duration: 60, silences: []media.Span{{Start: 10, End: 15}}}
		deps, store := testDeps(t, m)
		x := NewExchange("t1", store, "/in/source.mp4")

		step := &trimSilenceStep{deps: deps}
		require.NoError(t, step.Run(context.Background(), x))
		assert.Equal(t, 1, m.cutCalls)
		assert.NotEqual(t, "/in/source.mp4", x.Current)
		assert.True(t, store.Owns(x.Current))
	})

	t.Run("keeps original when nothing is silent", func(t *testing.T) {
		m := &fakeMedia{duration: 60}
		deps, store := testDeps(t, m)
		x := NewExchange("t1", store, "/in/source.mp4")

		step := &trimSilenceStep{deps: deps}
		require.NoError(t, step.Run(context.Background(), x))
		assert.Equal(t, 0, m.cutCalls)
		assert.Equal(t, "/in/source.mp4", x.Current)
	})
}

func TestAddSubtitlesStep(t *testing.T) {
	t.Run("writes srt and burns it in", func(t *testing.T) {
		m := &fakeMedia{}
		deps, store := testDeps(t, m)
		deps.Transcriber = &fakeTranscriber{segments: []transcribe.Segment{
			{Start: 0, End: 2, Text: "hello"},
		}}
		x := NewExchange("t1", store, "/in/source.mp4")

		step := &addSubtitlesStep{deps: deps}
		require.NoError(t, step.Run(context.Background(), x))
		require.Len(t, x.Outputs, 1)
		assert.Equal(t, "subtitles", x.Outputs[0].Kind)
		assert.Len(t, x.Segments, 1)
		assert.Contains(t, x.Current, "subtitled.mp4")
	})

	t.Run("rate limit is retriable", func(t *testing.T) {
		deps, store := testDeps(t, &fakeMedia{})
		deps.Transcriber = &fakeTranscriber{err: transcribe.ErrRateLimited}
		x := NewExchange("t1", store, "/in/source.mp4")

		err := (&addSubtitlesStep{deps: deps}).Run(context.Background(), x)
		var stepErr *StepError
		require.True(t, errors.As(err, &stepErr))
		assert.True(t, stepErr.Retriable)
	})

	t.Run("invalid audio is fatal", func(t *testing.T) {
		deps, store := testDeps(t, &fakeMedia{})
		deps.Transcriber = &fakeTranscriber{err: transcribe.ErrInvalidAudio}
		x := NewExchange("t1", store, "/in/source.mp4")

		err := (&addSubtitlesStep{deps: deps}).Run(context.Background(), x)
		var stepErr *StepError
		require.True(t, errors.As(err, &stepErr))
		assert.False(t, stepErr.Retriable)
	})
}

func TestCreateShortsStep(t *testing.T) {
	m := &fakeMedia{duration: 300}
	deps, store := testDeps(t, m)
	x := NewExchange("t1", store, "/in/source.mp4")

	step := &createShortsStep{deps: deps, cfg: Config{}}
	require.NoError(t, step.Run(context.Background(), x))
	assert.Len(t, x.Clips, 3)
	assert.Len(t, x.Outputs, 3)
	for _, o := range x.Outputs {
		assert.Equal(t, "short", o.Kind)
	}
}

func TestPlanClips(t *testing.T) {
	t.Run("short video yields one full clip", func(t *testing.T) {
		clips := planClips(30, 45, 3)
		require.Len(t, clips, 1)
		assert.Equal(t, media.Span{Start: 0, End: 30}, clips[0])
	})

	t.Run("long video is capped at max", func(t *testing.T) {
		clips := planClips(1000, 45, 3)
		assert.Len(t, clips, 3)
	})

	t.Run("clips never overlap", func(t *testing.T) {
		clips := planClips(200, 45, 3)
		for i := 1; i < len(clips); i++ {
			assert.GreaterOrEqual(t, clips[i].Start, clips[i-1].End)
		}
	})
}

func TestGenerateTitlesStep_FallsBackOnFailure(t *testing.T) {
	deps, store := testDeps(t, &fakeMedia{})
	gen := &fakeTitles{err: errors.New("model unavailable")}
	deps.Titles = gen
	x := NewExchange("t1", store, "/in/source.mp4")
	x.Segments = []transcribe.Segment{{Start: 0, End: 50, Text: "some speech"}}
	x.Clips = []Clip{{Path: "/w/t1/short_01.mp4", Start: 0, End: 45}}

	step := &generateTitlesStep{deps: deps}
	require.NoError(t, step.Run(context.Background(), x))
	assert.Equal(t, "Short 1", x.Clips[0].Meta.Title)
	// Non-rate-limit failures do not burn the retry budget.
	assert.Equal(t, 1, gen.calls)
}

func TestUploadShortsStep(t *testing.T) {
	t.Run("uploads every clip once", func(t *testing.T) {
		deps, store := testDeps(t, &fakeMedia{})
		up := &fakeUploader{ids: []string{"vid1", "vid2"}}
		deps.Uploader = up
		x := NewExchange("t1", store, "/in/source.mp4")
		x.Clips = []Clip{
			{Path: "/w/t1/short_01.mp4", Meta: titles.Metadata{Title: "One"}},
			{Path: "/w/t1/short_02.mp4", Meta: titles.Metadata{Title: "Two"}},
		}
		x.Outputs = append(x.Outputs,
			task.Output{Name: "short_01.mp4", Path: "/w/t1/short_01.mp4", Kind: "short"},
			task.Output{Name: "short_02.mp4", Path: "/w/t1/short_02.mp4", Kind: "short"},
		)

		step := &uploadShortsStep{deps: deps}
		require.NoError(t, step.Run(context.Background(), x))
		assert.Equal(t, 2, up.calls)
		assert.Equal(t, "vid1", x.Outputs[0].RemoteID)
		assert.Equal(t, "vid2", x.Outputs[1].RemoteID)
	})

	t.Run("skips already-uploaded clips on retry", func(t *testing.T) {
		deps, store := testDeps(t, &fakeMedia{})
		up := &fakeUploader{ids: []string{"vid2"}}
		deps.Uploader = up
		x := NewExchange("t1", store, "/in/source.mp4")
		x.Clips = []Clip{
			{Path: "/w/t1/short_01.mp4", RemoteID: "vid1"},
			{Path: "/w/t1/short_02.mp4"},
		}

		step := &uploadShortsStep{deps: deps}
		require.NoError(t, step.Run(context.Background(), x))
		assert.Equal(t, 1, up.calls)
	})

	t.Run("missing uploader fails the step, not the process", func(t *testing.T) {
		deps, store := testDeps(t, &fakeMedia{})
		deps.Uploader = nil
		x := NewExchange("t1", store, "/in/source.mp4")
		x.Clips = []Clip{{Path: "/w/t1/short_01.mp4"}}

		var err error
		require.NotPanics(t, func() {
			err = (&uploadShortsStep{deps: deps}).Run(context.Background(), x)
		})
		var stepErr *StepError
		require.True(t, errors.As(err, &stepErr))
		assert.False(t, stepErr.Retriable)
		assert.Contains(t, err.Error(), "no uploader configured")
	})

	t.Run("quota exhaustion is fatal", func(t *testing.T) {
		deps, store := testDeps(t, &fakeMedia{})
		deps.Uploader = &fakeUploader{err: upload.ErrQuotaExceeded}
		x := NewExchange("t1", store, "/in/source.mp4")
		x.Clips = []Clip{{Path: "/w/t1/short_01.mp4"}}

		err := (&uploadShortsStep{deps: deps}).Run(context.Background(), x)
		var stepErr *StepError
		require.True(t, errors.As(err, &stepErr))
		assert.False(t, stepErr.Retriable)
	})

	t.Run("network errors are retriable", func(t *testing.T) {
		deps, store := testDeps(t, &fakeMedia{})
		deps.Uploader = &fakeUploader{err: errors.New("connection reset")}
		x := NewExchange("t1", store, "/in/source.mp4")
		x.Clips = []Clip{{Path: "/w/t1/short_01.mp4"}}

		err := (&uploadShortsStep{deps: deps}).Run(context.Background(), x)
		var stepErr *StepError
		require.True(t, errors.As(err, &stepErr))
		assert.True(t, stepErr.Retriable)
	})
}
