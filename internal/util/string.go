// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"fmt"
	"unicode/utf8"
)

// TruncateRunes clips s to maxRunes runes, ending with "..." when clipped.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateMiddle keeps the head and tail of s within maxBytes and replaces
// the middle with a marker. Command output usually has the interesting part
// at one of the ends. The cut points are moved to rune boundaries.
func TruncateMiddle(s string, maxBytes int) (string, bool) {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s, false
	}

	marker := fmt.Sprintf("\n... [%d bytes truncated] ...\n", len(s)-maxBytes)
	half := maxBytes / 2

	head := half
	for head > 0 && !utf8.RuneStart(s[head]) {
		head--
	}
	tail := len(s) - half
	for tail < len(s) && !utf8.RuneStart(s[tail]) {
		tail++
	}
	return s[:head] + marker + s[tail:], true
}
