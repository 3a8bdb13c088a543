package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"videoflow/media"
	"videoflow/task"
	"videoflow/titles"
	"videoflow/transcribe"
	"videoflow/upload"
)

// trimSilenceStep detects silent spans and re-cuts the video without them.
type trimSilenceStep struct {
	deps Deps
}

func (s *trimSilenceStep) Kind() Kind          { return KindTrimSilence }
func (s *trimSilenceStep) Description() string { return "trimming silence" }

func (s *trimSilenceStep) Run(ctx context.Context, x *Exchange) error {
	dir, err := x.Store.Allocate(x.TaskID)
	if err != nil {
		return Fatal(s.Kind(), err)
	}

	cfg := s.deps.Cfg
	duration, err := s.deps.Media.Duration(ctx, x.Current)
	if err != nil {
		return Fatal(s.Kind(), err)
	}

	silences, err := s.deps.Media.DetectSilence(ctx, x.Current, cfg.SilenceNoiseDB, cfg.SilenceMinLen)
	if err != nil {
		return Fatal(s.Kind(), err)
	}
	if len(silences) == 0 {
		log.Printf("Task %s: no silence detected, keeping original cut", x.TaskID)
		return nil
	}

	keep := media.KeepSpans(silences, duration, cfg.SilencePadding.Seconds())
	if len(keep) == 0 {
		return Fatal(s.Kind(), fmt.Errorf("video is entirely silent"))
	}

	out := filepath.Join(dir, "trimmed.mp4")
	if err := s.deps.Media.CutSpans(ctx, x.Current, out, keep); err != nil {
		return Fatal(s.Kind(), err)
	}
	x.SetCurrent(out)
	return nil
}

// addSubtitlesStep transcribes the audio track, stores an SRT artifact and
// burns it into the video.
type addSubtitlesStep struct {
	deps Deps
}

func (s *addSubtitlesStep) Kind() Kind          { return KindAddSubtitles }
func (s *addSubtitlesStep) Description() string { return "generating subtitles" }

func (s *addSubtitlesStep) Run(ctx context.Context, x *Exchange) error {
	dir, err := x.Store.Allocate(x.TaskID)
	if err != nil {
		return Fatal(s.Kind(), err)
	}

	audio := filepath.Join(dir, "audio.wav")
	if err := s.deps.Media.ExtractAudio(ctx, x.Current, audio); err != nil {
		return Fatal(s.Kind(), err)
	}
	x.Discard(audio)

	segments, err := s.deps.Transcriber.Transcribe(ctx, audio)
	if err != nil {
		if errors.Is(err, transcribe.ErrInvalidAudio) {
			return Fatal(s.Kind(), err)
		}
		// Rate limits and network hiccups are worth retrying.
		return Retriable(s.Kind(), err)
	}
	x.Segments = segments

	if len(segments) == 0 {
		log.Printf("Task %s: transcription produced no speech, skipping subtitles", x.TaskID)
		return nil
	}

	var buf bytes.Buffer
	if err := transcribe.WriteSRT(&buf, segments); err != nil {
		return Fatal(s.Kind(), err)
	}
	srt, err := x.Store.Write(x.TaskID, "subtitles.srt", &buf)
	if err != nil {
		return Fatal(s.Kind(), err)
	}
	x.AddOutput(task.Output{Name: "subtitles.srt", Path: srt, Kind: "subtitles"})

	out := filepath.Join(dir, "subtitled.mp4")
	if err := s.deps.Media.BurnSubtitles(ctx, x.Current, srt, out); err != nil {
		return Fatal(s.Kind(), err)
	}
	x.SetCurrent(out)
	return nil
}

// createShortsStep extracts vertical clips spread across the video.
type createShortsStep struct {
	deps Deps
	cfg  Config
}

func (s *createShortsStep) Kind() Kind          { return KindCreateShorts }
func (s *createShortsStep) Description() string { return "creating shorts" }

func (s *createShortsStep) Run(ctx context.Context, x *Exchange) error {
	dir, err := x.Store.Allocate(x.TaskID)
	if err != nil {
		return Fatal(s.Kind(), err)
	}

	maxClips := s.deps.Cfg.ShortsMax
	if s.cfg.ShortsMax > 0 {
		maxClips = s.cfg.ShortsMax
	}
	length := s.deps.Cfg.ShortsLength.Seconds()
	if s.cfg.ShortsLengthSec > 0 {
		length = s.cfg.ShortsLengthSec
	}

	duration, err := s.deps.Media.Duration(ctx, x.Current)
	if err != nil {
		return Fatal(s.Kind(), err)
	}

	for _, c := range planClips(duration, length, maxClips) {
		out := filepath.Join(dir, fmt.Sprintf("short_%02d.mp4", len(x.Clips)+1))
		if err := s.deps.Media.ExtractClip(ctx, x.Current, out, c.Start, c.End-c.Start); err != nil {
			return Fatal(s.Kind(), err)
		}
		x.Clips = append(x.Clips, Clip{Path: out, Start: c.Start, End: c.End})
		x.AddOutput(task.Output{Name: filepath.Base(out), Path: out, Kind: "short"})
	}
	return nil
}

// planClips spreads up to maxClips clip windows evenly across the video.
func planClips(duration, length float64, maxClips int) []media.Span {
	if duration <= 0 || length <= 0 || maxClips <= 0 {
		return nil
	}
	if duration <= length {
		return []media.Span{{Start: 0, End: duration}}
	}
	n := int(duration / length)
	if n > maxClips {
		n = maxClips
	}
	spans := make([]media.Span, 0, n)
	stride := duration / float64(n)
	for i := 0; i < n; i++ {
		start := float64(i) * stride
		spans = append(spans, media.Span{Start: start, End: start + length})
	}
	return spans
}

// generateTitlesStep asks the AI collaborator for publish metadata. The
// step is optional by nature: exhausted API failures fall back to default
// metadata instead of failing the task.
type generateTitlesStep struct {
	deps Deps
}

func (s *generateTitlesStep) Kind() Kind          { return KindGenerateTitles }
func (s *generateTitlesStep) Description() string { return "generating titles" }

func (s *generateTitlesStep) Run(ctx context.Context, x *Exchange) error {
	if len(x.Clips) == 0 {
		meta := s.generate(ctx, x, transcribe.TextBetween(x.Segments, 0, 1e12), filepath.Base(x.Current))
		x.Meta = meta
		return nil
	}

	for i := range x.Clips {
		clip := &x.Clips[i]
		if clip.Meta.Title != "" {
			continue // already titled on a previous delivery
		}
		transcript := transcribe.TextBetween(x.Segments, clip.Start, clip.End)
		clip.Meta = s.generate(ctx, x, transcript, fmt.Sprintf("Short %d", i+1))
	}

	data, err := json.MarshalIndent(clipMetadata(x.Clips), "", "  ")
	if err != nil {
		return Fatal(s.Kind(), err)
	}
	path, err := x.Store.Write(x.TaskID, "metadata.json", bytes.NewReader(data))
	if err != nil {
		return Fatal(s.Kind(), err)
	}
	x.AddOutput(task.Output{Name: "metadata.json", Path: path, Kind: "metadata"})
	return nil
}

// generate calls the collaborator with a small retry loop of its own and
// degrades to a fallback title rather than failing the pipeline.
func (s *generateTitlesStep) generate(ctx context.Context, x *Exchange, transcript, fallback string) titles.Metadata {
	if transcript != "" {
		for attempt := 0; attempt <= s.deps.Cfg.StepRetries; attempt++ {
			meta, err := s.deps.Titles.Generate(ctx, transcript)
			if err == nil {
				return meta
			}
			log.Printf("Task %s: title generation attempt %d failed: %v", x.TaskID, attempt+1, err)
			if !errors.Is(err, titles.ErrRateLimited) {
				break
			}
		}
	}
	return titles.Metadata{Title: fallback}
}

func clipMetadata(clips []Clip) map[string]titles.Metadata {
	out := make(map[string]titles.Metadata, len(clips))
	for _, c := range clips {
		out[filepath.Base(c.Path)] = c.Meta
	}
	return out
}

// uploadShortsStep uploads the produced clips (or the main video when no
// clips were cut) to the next free publish slots.
type uploadShortsStep struct {
	deps Deps
}

func (s *uploadShortsStep) Kind() Kind          { return KindUploadShorts }
func (s *uploadShortsStep) Description() string { return "uploading" }

func (s *uploadShortsStep) Run(ctx context.Context, x *Exchange) error {
	if s.deps.Uploader == nil {
		return Fatal(s.Kind(), errors.New("no uploader configured: set YOUTUBE_CLIENT_ID, YOUTUBE_CLIENT_SECRET and YOUTUBE_REFRESH_TOKEN"))
	}

	targets := make([]*Clip, 0, len(x.Clips))
	for i := range x.Clips {
		targets = append(targets, &x.Clips[i])
	}
	if len(targets) == 0 {
		// Upload the main video itself when shorts were not requested.
		targets = append(targets, &Clip{Path: x.Current, Meta: x.Meta})
	}

	slots := s.deps.Plan.Slots(time.Now(), len(targets))
	for i, clip := range targets {
		if clip.RemoteID != "" {
			continue // uploaded before a retry or re-delivery
		}
		meta := clip.Meta
		if meta.Title == "" {
			meta.Title = filepath.Base(clip.Path)
		}
		id, err := s.deps.Uploader.Upload(ctx, clip.Path, upload.Metadata{
			Title:       meta.Title,
			Description: meta.Description,
			Tags:        meta.Tags,
			CategoryID:  s.deps.Cfg.UploadCategory,
			Privacy:     s.deps.Cfg.UploadPrivacy,
		}, slots[i])
		if err != nil {
			if errors.Is(err, upload.ErrAuthExpired) || errors.Is(err, upload.ErrQuotaExceeded) {
				return Fatal(s.Kind(), err)
			}
			return Retriable(s.Kind(), err)
		}
		clip.RemoteID = id
		x.SetRemoteID(clip.Path, id)
		if len(x.Clips) == 0 {
			// Main-video upload: record it so the result carries the
			// remote ID even before the executor's success bookkeeping.
			x.AddOutput(task.Output{Name: filepath.Base(clip.Path), Path: clip.Path, Kind: "video", RemoteID: id})
		}
	}
	return nil
}
