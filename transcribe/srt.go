package transcribe

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// WriteSRT renders segments in SubRip format.
func WriteSRT(w io.Writer, segments []Segment) error {
	for i, s := range segments {
		_, err := fmt.Fprintf(w, "%d\n%s --> %s\n%s\n\n",
			i+1, srtTimestamp(s.Start), srtTimestamp(s.End), strings.TrimSpace(s.Text))
		if err != nil {
			return err
		}
	}
	return nil
}

// srtTimestamp formats seconds as HH:MM:SS,mmm.
func srtTimestamp(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	ms := (d - s*time.Second) / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// TextBetween joins the text of segments overlapping [start, end].
func TextBetween(segments []Segment, start, end float64) string {
	var parts []string
	for _, s := range segments {
		if s.End < start || s.Start > end {
			continue
		}
		parts = append(parts, strings.TrimSpace(s.Text))
	}
	return strings.Join(parts, " ")
}
