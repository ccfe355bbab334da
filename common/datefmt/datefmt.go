// Copyright 2024 The hedge Authors
// This file is part of the hedge library.
//
// The hedge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The hedge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the hedge library. If not, see <http://www.gnu.org/licenses/>.

// Package datefmt maps between programmatic time values and the ISO-8601
// wire formats used throughout the broker: dates, times, timestamps and
// durations. Every parse function is the exact inverse of its format
// counterpart on well-formed values.
package datefmt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layouts for the date, time and timestamp wire formats.
const (
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05.000000"
	TimestampLayout = DateLayout + "T" + TimeLayout
)

var durationRe = regexp.MustCompile(
	`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// FormatDate renders t's calendar date.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// ParseDate parses a calendar date in the wire format.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// FormatTime renders t's time of day with microsecond precision.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}

// ParseTime parses a time of day in the wire format.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// FormatTimestamp renders a full timestamp.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseTimestamp parses a full timestamp in the wire format. Bare dates are
// accepted and resolve to midnight, since templates routinely carry
// day-resolution ranges.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(DateLayout, s)
}

// FormatDuration renders d as an ISO-8601 duration, e.g. "P1D", "PT1M",
// "P2DT3H4M5S". The zero duration renders as "PT0S".
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "PT0S"
	}
	var b strings.Builder
	b.WriteByte('P')
	if days := d / (24 * time.Hour); days > 0 {
		fmt.Fprintf(&b, "%dD", days)
		d -= days * 24 * time.Hour
	}
	if d == 0 {
		return b.String()
	}
	b.WriteByte('T')
	if h := d / time.Hour; h > 0 {
		fmt.Fprintf(&b, "%dH", h)
		d -= h * time.Hour
	}
	if m := d / time.Minute; m > 0 {
		fmt.Fprintf(&b, "%dM", m)
		d -= m * time.Minute
	}
	if d > 0 {
		if d%time.Second == 0 {
			fmt.Fprintf(&b, "%dS", d/time.Second)
		} else {
			fmt.Fprintf(&b, "%gS", d.Seconds())
		}
	}
	return b.String()
}

// ParseDuration parses an ISO-8601 duration of the form accepted by
// FormatDuration. Calendar units wider than a day (weeks, months, years) are
// not supported; coverage math treats a day as exactly 24 hours.
func ParseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("invalid ISO-8601 duration %q", s)
	}
	var d time.Duration
	if m[1] != "" {
		days, _ := strconv.Atoi(m[1])
		d += time.Duration(days) * 24 * time.Hour
	}
	if m[2] != "" {
		h, _ := strconv.Atoi(m[2])
		d += time.Duration(h) * time.Hour
	}
	if m[3] != "" {
		mins, _ := strconv.Atoi(m[3])
		d += time.Duration(mins) * time.Minute
	}
	if m[4] != "" {
		sec, err := strconv.ParseFloat(m[4], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %v", s, err)
		}
		d += time.Duration(sec * float64(time.Second))
	}
	return d, nil
}

// ParseOffset parses an offset-of-day of the form "09:30:00" used by the
// scheduler configuration.
func ParseOffset(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid offset-of-day %q", s)
	}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("invalid offset-of-day %q: %v", s, err)
		}
		vals[i] = v
	}
	return time.Duration(vals[0])*time.Hour +
		time.Duration(vals[1])*time.Minute +
		time.Duration(vals[2])*time.Second, nil
}
