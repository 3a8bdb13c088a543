package media

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"videoflow/config"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Span is a half-open [Start, End) interval in seconds.
type Span struct {
	Start float64
	End   float64
}

// ProcessError reports a non-zero exit from the media binary, with its
// combined output attached for diagnostics.
type ProcessError struct {
	Op     string
	Output string
	Err    error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// Runner invokes ffmpeg/ffprobe for all local media operations.
type Runner struct {
	cfg       *config.Config
	bin       string
	probeBin  string
	extraArgs []string
}

func NewRunner(cfg *config.Config) (*Runner, error) {
	if _, err := exec.LookPath(cfg.FFBin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", cfg.FFBin)
	}
	if _, err := exec.LookPath(cfg.FFProbeBin); err != nil {
		return nil, fmt.Errorf("ffprobe binary not found or not in PATH: %s", cfg.FFProbeBin)
	}

	extra, err := SplitExtraArgs(cfg.FFExtraArgs)
	if err != nil {
		return nil, err
	}

	return &Runner{
		cfg:       cfg,
		bin:       cfg.FFBin,
		probeBin:  cfg.FFProbeBin,
		extraArgs: extra,
	}, nil
}

// run executes the ffmpeg binary and returns its combined output.
func (r *Runner) run(ctx context.Context, op string, args ...string) (string, error) {
	full := append([]string{"-hide_banner", "-y"}, r.extraArgs...)
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, r.bin, full...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	log.Printf("Executing %s: %s %s", op, cmd.Path, strings.Join(full, " "))

	err := cmd.Run()
	output := outputBuf.String()
	if err != nil {
		return output, &ProcessError{Op: op, Output: output, Err: err}
	}
	return output, nil
}

// Duration probes the duration of a media file in seconds.
func (r *Runner) Duration(ctx context.Context, input string) (float64, error) {
	cmd := exec.CommandContext(ctx, r.probeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, &ProcessError{Op: "probe duration", Output: string(out), Err: err}
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("could not parse duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return d, nil
}

// ExtractAudio produces a 16 kHz mono WAV suitable for transcription.
func (r *Runner) ExtractAudio(ctx context.Context, input, output string) error {
	_, err := r.run(ctx, "extract audio",
		"-i", input,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", "16000",
		output,
	)
	return err
}

var (
	silenceStartRe = regexp.MustCompile(`silence_start:\s*([0-9.]+)`)
	silenceEndRe   = regexp.MustCompile(`silence_end:\s*([0-9.]+)`)
)

// DetectSilence runs the silencedetect filter and returns the detected
// silent spans.
func (r *Runner) DetectSilence(ctx context.Context, input string, noiseDB float64, minLen time.Duration) ([]Span, error) {
	output, err := r.run(ctx, "detect silence",
		"-i", input,
		"-af", fmt.Sprintf("silencedetect=noise=%.1fdB:d=%.3f", noiseDB, minLen.Seconds()),
		"-f", "null", "-",
	)
	if err != nil {
		return nil, err
	}
	return parseSilence(output), nil
}

// parseSilence pairs silence_start/silence_end markers from filter output.
func parseSilence(output string) []Span {
	var spans []Span
	var pending *Span
	for _, line := range strings.Split(output, "\n") {
		if m := silenceStartRe.FindStringSubmatch(line); m != nil {
			start, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				pending = &Span{Start: start}
			}
			continue
		}
		if m := silenceEndRe.FindStringSubmatch(line); m != nil && pending != nil {
			end, err := strconv.ParseFloat(m[1], 64)
			if err == nil && end > pending.Start {
				pending.End = end
				spans = append(spans, *pending)
			}
			pending = nil
		}
	}
	return spans
}

// KeepSpans complements silent spans over [0, duration) with padding and
// returns the spans worth keeping.
func KeepSpans(silences []Span, duration, padding float64) []Span {
	var keep []Span
	cursor := 0.0
	for _, s := range silences {
		start := s.Start + padding
		if start > cursor {
			keep = append(keep, Span{Start: cursor, End: start})
		}
		next := s.End - padding
		if next > cursor {
			cursor = next
		}
	}
	if cursor < duration {
		keep = append(keep, Span{Start: cursor, End: duration})
	}
	return keep
}

// CutSpans re-encodes the input keeping only the given spans, concatenated
// in order.
func (r *Runner) CutSpans(ctx context.Context, input, output string, spans []Span) error {
	if len(spans) == 0 {
		return fmt.Errorf("no spans to keep")
	}

	var filter strings.Builder
	for i, s := range spans {
		fmt.Fprintf(&filter,
			"[0:v]trim=start=%.3f:end=%.3f,setpts=PTS-STARTPTS[v%d];"+
				"[0:a]atrim=start=%.3f:end=%.3f,asetpts=PTS-STARTPTS[a%d];",
			s.Start, s.End, i, s.Start, s.End, i)
	}
	for i := range spans {
		fmt.Fprintf(&filter, "[v%d][a%d]", i, i)
	}
	fmt.Fprintf(&filter, "concat=n=%d:v=1:a=1[v][a]", len(spans))

	_, err := r.run(ctx, "cut spans",
		"-i", input,
		"-filter_complex", filter.String(),
		"-map", "[v]", "-map", "[a]",
		output,
	)
	return err
}

// BurnSubtitles renders an SRT file into the video stream.
func (r *Runner) BurnSubtitles(ctx context.Context, input, srt, output string) error {
	style := "FontName=Arial,FontSize=14,PrimaryColour=&H00FFFFFF,OutlineColour=&H00000000,Outline=2,Alignment=2,MarginV=40"
	filter := fmt.Sprintf("subtitles=%s:force_style='%s'", escapeFilterPath(srt), style)

	_, err := r.run(ctx, "burn subtitles",
		"-i", input,
		"-vf", filter,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "20",
		"-c:a", "copy",
		output,
	)
	return err
}

// ExtractClip cuts a vertical 9:16 clip for shorts publishing.
func (r *Runner) ExtractClip(ctx context.Context, input, output string, start, length float64) error {
	_, err := r.run(ctx, "extract clip",
		"-ss", fmt.Sprintf("%.3f", start),
		"-t", fmt.Sprintf("%.3f", length),
		"-i", input,
		"-vf", "crop=ih*9/16:ih,scale=1080:1920",
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		output,
	)
	return err
}

// escapeFilterPath escapes characters ffmpeg's filter parser treats specially.
func escapeFilterPath(path string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`:`, `\:`,
		`'`, `\'`,
	)
	return replacer.Replace(path)
}

// CheckResources verifies that the host has enough headroom to start a job.
func (r *Runner) CheckResources() error {
	p, err := cpu.Percent(time.Second, false)
	if err != nil {
		log.Printf("Warning: could not get CPU usage: %v", err)
	} else if len(p) > 0 && p[0] > (100.0-r.cfg.ThrottleCPU) {
		return fmt.Errorf("not enough idle CPU: current usage %.2f%%, idle threshold %.2f%%", p[0], r.cfg.ThrottleCPU)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Printf("Warning: could not get memory usage: %v", err)
	} else if vm.Available < uint64(r.cfg.ThrottleFreeMem) {
		return fmt.Errorf("not enough free memory: available %d, required %d", vm.Available, r.cfg.ThrottleFreeMem)
	}

	dir := r.cfg.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}
	d, err := disk.Usage(dir)
	if err != nil {
		log.Printf("Warning: could not get disk usage for %s: %v", dir, err)
	} else if d.Free < uint64(r.cfg.ThrottleFreeDisk) {
		return fmt.Errorf("not enough free disk space: available %d, required %d", d.Free, r.cfg.ThrottleFreeDisk)
	}
	return nil
}
