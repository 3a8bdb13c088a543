package schedule

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileFormat is the yaml shape of the publish schedule file.
type fileFormat struct {
	Timezone         string            `yaml:"timezone"`
	Daily            map[string]string `yaml:"daily"`
	MinIntervalHours int               `yaml:"min_interval_hours"`
	MaxPerWeek       int               `yaml:"max_per_week"`
}

// Plan computes publish times from a weekly slot schedule.
type Plan struct {
	loc         *time.Location
	daily       [7]slot // indexed by time.Weekday
	minInterval time.Duration
	maxPerWeek  int
}

type slot struct {
	hour, minute int
	set          bool
}

var dayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Default returns the built-in schedule: 20:00 on weekdays, 11:00 on
// weekends, Asia/Kolkata, at most one video per day and 7 per week.
func Default() *Plan {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.UTC
	}
	p := &Plan{loc: loc, minInterval: 4 * time.Hour, maxPerWeek: 7}
	for d := time.Sunday; d <= time.Saturday; d++ {
		if d == time.Saturday || d == time.Sunday {
			p.daily[d] = slot{hour: 11, set: true}
		} else {
			p.daily[d] = slot{hour: 20, set: true}
		}
	}
	return p
}

// Load reads a schedule file, falling back to the default plan when the
// file does not exist.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	var ff fileFormat
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("could not parse schedule file %s: %w", path, err)
	}

	p := Default()
	if ff.Timezone != "" {
		loc, err := time.LoadLocation(ff.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q: %w", ff.Timezone, err)
		}
		p.loc = loc
	}
	if ff.MinIntervalHours > 0 {
		p.minInterval = time.Duration(ff.MinIntervalHours) * time.Hour
	}
	if ff.MaxPerWeek > 0 {
		p.maxPerWeek = ff.MaxPerWeek
	}
	if len(ff.Daily) > 0 {
		p.daily = [7]slot{}
		for name, hm := range ff.Daily {
			day, ok := dayNames[name]
			if !ok {
				return nil, fmt.Errorf("unknown weekday %q in schedule file", name)
			}
			t, err := time.Parse("15:04", hm)
			if err != nil {
				return nil, fmt.Errorf("bad time %q for %s: %w", hm, name, err)
			}
			p.daily[day] = slot{hour: t.Hour(), minute: t.Minute(), set: true}
		}
	}
	return p, nil
}

// Next returns the first scheduled publish time strictly after the given
// instant, in UTC.
func (p *Plan) Next(after time.Time) time.Time {
	local := after.In(p.loc)
	for offset := 0; offset < 8; offset++ {
		day := local.AddDate(0, 0, offset)
		s := p.daily[day.Weekday()]
		if !s.set {
			continue
		}
		candidate := time.Date(day.Year(), day.Month(), day.Day(), s.hour, s.minute, 0, 0, p.loc)
		if candidate.After(local) {
			return candidate.UTC()
		}
	}
	// Unreachable unless every day is unset; publish immediately.
	return after.UTC()
}

// Slots assigns publish times to n uploads starting after the given
// instant, honouring the minimum interval and weekly cap.
func (p *Plan) Slots(after time.Time, n int) []time.Time {
	slots := make([]time.Time, 0, n)
	cursor := after
	inWeek := 0
	weekStart := after
	for len(slots) < n {
		next := p.Next(cursor)
		if len(slots) > 0 && next.Sub(slots[len(slots)-1]) < p.minInterval {
			cursor = slots[len(slots)-1].Add(p.minInterval)
			continue
		}
		if next.Sub(weekStart) >= 7*24*time.Hour {
			weekStart = next
			inWeek = 0
		}
		if inWeek >= p.maxPerWeek {
			cursor = weekStart.Add(7 * 24 * time.Hour)
			weekStart = cursor
			inWeek = 0
			continue
		}
		slots = append(slots, next)
		inWeek++
		cursor = next
	}
	return slots
}
