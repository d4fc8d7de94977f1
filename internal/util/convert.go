// Copyright (c) 2025-2026 Counselkit
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strconv"
	"time"
)

// IntToString converts an int to its decimal string form.
func IntToString(i int) string {
	return strconv.Itoa(i)
}

// Int64ToString converts an int64 to its decimal string form.
func Int64ToString(i int64) string {
	return strconv.FormatInt(i, 10)
}

// FloatToString converts a float64 to a string with 2 decimal places.
func FloatToString(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// FormatDuration renders a duration in a compact human form: sub-second
// durations as milliseconds, everything else as seconds with one decimal.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return Int64ToString(d.Milliseconds()) + "ms"
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 1, 64) + "s"
}
