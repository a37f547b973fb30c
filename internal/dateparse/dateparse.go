// Package dateparse turns relative and absolute date strings into the
// YYYY-MM-DD form practice sessions and goal target dates carry.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateFormat is the layout of every date riff stores.
const DateFormat = "2006-01-02"

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseDate parses a date input string relative to time.Now.
//
// Supported formats:
//   - Exact dates: "2026-03-01"
//   - Offsets: "+7d", "-2w", "+1m" (a bare "3d" means three days ago)
//   - Day names: "monday" (next occurrence), "last-monday" (most recent past one)
//   - Keywords: "today", "yesterday", "tomorrow", "next-week", "next-month", "last-week"
func ParseDate(input string) (string, error) {
	return ParseDateFrom(input, time.Now())
}

// ParseDateFrom parses a date input string relative to now.
func ParseDateFrom(input string, now time.Time) (string, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return "", fmt.Errorf("empty date input")
	}

	if t, err := time.Parse(DateFormat, input); err == nil {
		return t.Format(DateFormat), nil
	}

	switch input {
	case "today":
		return formatDate(now), nil
	case "yesterday":
		return formatDate(now.AddDate(0, 0, -1)), nil
	case "tomorrow":
		return formatDate(now.AddDate(0, 0, 1)), nil
	case "next-week":
		return formatDate(now.AddDate(0, 0, daysUntil(now.Weekday(), time.Monday))), nil
	case "last-week":
		return formatDate(now.AddDate(0, 0, -7)), nil
	case "next-month":
		year, month, _ := now.Date()
		return formatDate(time.Date(year, month+1, 1, 0, 0, 0, 0, now.Location())), nil
	}

	if d, ok, err := parseOffset(input, now); ok {
		return d, err
	}

	if name, ok := strings.CutPrefix(input, "last-"); ok {
		if target, ok := weekdays[name]; ok {
			return formatDate(now.AddDate(0, 0, -daysUntil(target, now.Weekday()))), nil
		}
	}
	if target, ok := weekdays[input]; ok {
		return formatDate(now.AddDate(0, 0, daysUntil(now.Weekday(), target))), nil
	}

	return "", fmt.Errorf("unrecognized date format: %q", input)
}

// ParseDuration parses practice lengths like "45", "45m", "1h", "1h30m" into minutes.
func ParseDuration(input string) (int, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.Atoi(input); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("duration must be positive: %q", input)
		}
		return n, nil
	}
	d, err := time.ParseDuration(input)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q (use minutes, 45m or 1h30m)", input)
	}
	if d < time.Minute {
		return 0, fmt.Errorf("duration must be at least a minute: %q", input)
	}
	return int(d / time.Minute), nil
}

// parseOffset handles [+-]N{d,w,m}. ok is false when input is not offset-shaped.
func parseOffset(input string, now time.Time) (string, bool, error) {
	sign := -1
	body := input
	switch input[0] {
	case '+':
		sign, body = 1, input[1:]
	case '-':
		body = input[1:]
	}
	if len(body) < 2 {
		return "", false, nil
	}
	n, err := strconv.Atoi(body[:len(body)-1])
	if err != nil || n < 0 {
		return "", false, nil
	}
	n *= sign
	switch unit := body[len(body)-1]; unit {
	case 'd':
		return formatDate(now.AddDate(0, 0, n)), true, nil
	case 'w':
		return formatDate(now.AddDate(0, 0, n*7)), true, nil
	case 'm':
		return formatDate(now.AddDate(0, n, 0)), true, nil
	default:
		return "", true, fmt.Errorf("unknown relative unit %q in %q (use d, w, or m)", string(unit), input)
	}
}

// daysUntil counts forward from one weekday to the next occurrence of another, 1..7.
func daysUntil(from, to time.Weekday) int {
	n := (int(to) - int(from) + 7) % 7
	if n == 0 {
		n = 7
	}
	return n
}

func formatDate(t time.Time) string {
	return t.Format(DateFormat)
}
