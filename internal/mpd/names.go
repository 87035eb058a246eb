// SPDX-License-Identifier: MIT

package mpd

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// maxNameBytes keeps playlist names under the filesystem NAME_MAX that MPD
// hits when writing <name>.m3u.
const maxNameBytes = 200

// SanitizeName makes a catalog title usable as an MPD stored playlist name.
// MPD stores playlists as files, so path separators and newlines are
// rejected by the server and control characters confuse clients. Names are
// NFC-normalized so the same title always maps to the same playlist file.
func SanitizeName(name string) string {
	name = norm.NFC.String(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '/' || r == '\\':
			b.WriteRune('-')
		case r == unicode.ReplacementChar:
			// Invalid UTF-8 input byte; drop it.
		case unicode.IsControl(r):
			// Drop newlines, tabs and the rest of C0/C1.
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	if len(out) > maxNameBytes {
		out = truncateAtRune(out, maxNameBytes)
	}
	return out
}

// truncateAtRune cuts s to at most n bytes without splitting a rune.
func truncateAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
