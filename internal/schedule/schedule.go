// Package schedule parses five-field cron expressions and answers when and
// whether a schedule fires.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/polarfoxDev/ballast/internal/model"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

var dayNames = map[string]string{
	"0": "Sunday", "1": "Monday", "2": "Tuesday", "3": "Wednesday",
	"4": "Thursday", "5": "Friday", "6": "Saturday", "7": "Sunday",
}

// Schedule is a validated cron expression.
type Schedule struct {
	expr string
	spec cron.Schedule
}

// Parse validates a five-field cron expression (minute hour day-of-month
// month day-of-week).
func Parse(expr string) (Schedule, error) {
	spec, err := parser.Parse(expr)
	if err != nil {
		return Schedule{}, model.InvalidInputf("invalid cron expression %q: %v", expr, err)
	}
	return Schedule{expr: expr, spec: spec}, nil
}

func (s Schedule) String() string { return s.expr }

// Next returns the first activation strictly after t.
func (s Schedule) Next(t time.Time) time.Time {
	return s.spec.Next(t)
}

// MatchesMinute reports whether the schedule fires during the minute
// containing t.
func (s Schedule) MatchesMinute(t time.Time) bool {
	minute := t.Truncate(time.Minute)
	return s.spec.Next(minute.Add(-time.Second)).Equal(minute)
}

// Describe renders the expression as a human-readable sentence, falling
// back to the raw expression for patterns it does not recognize.
func (s Schedule) Describe() string {
	fields := strings.Fields(s.expr)
	if len(fields) != 5 {
		return s.expr
	}
	min, hour, dom, _, dow := fields[0], fields[1], fields[2], fields[3], fields[4]

	m, minOK := atoi(min)
	h, hourOK := atoi(hour)

	switch {
	case minOK && hourOK && dom == "*" && dow != "*":
		if day, ok := dayNames[dow]; ok {
			return fmt.Sprintf("Every %s at %s", day, clock(h, m))
		}
	case minOK && hourOK && dom != "*" && dow == "*":
		if d, ok := atoi(dom); ok {
			return fmt.Sprintf("Day %d of each month at %s", d, clock(h, m))
		}
	case minOK && hourOK && dom == "*" && dow == "*":
		return fmt.Sprintf("Daily at %s", clock(h, m))
	case minOK && hour == "*" && dom == "*" && dow == "*":
		return fmt.Sprintf("Every hour at minute %d", m)
	}
	return s.expr
}

func atoi(f string) (int, bool) {
	n, err := strconv.Atoi(f)
	return n, err == nil
}

// clock formats a 24h hour/minute pair as "2:00 AM".
func clock(hour, minute int) string {
	suffix := "AM"
	h := hour
	switch {
	case hour == 0:
		h = 12
	case hour == 12:
		suffix = "PM"
	case hour > 12:
		h = hour - 12
		suffix = "PM"
	}
	return fmt.Sprintf("%d:%02d %s", h, minute, suffix)
}
