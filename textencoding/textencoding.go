// Package textencoding maps the numeric text-encoding codes carried in a
// MOBI header to their canonical names and, where a codec is known,
// their golang.org/x/text charmap. It does not transcode anything
// itself: callers that need the raw bytes decoded do that with the
// returned encoding.Encoding.
package textencoding

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Well-known MOBI text-encoding codes.
const (
	CP1252 = 1252
	UTF8   = 65001
)

var names = map[uint32]string{
	CP1252: "windows-1252",
	UTF8:   "utf-8",
}

// Name returns the canonical lowercase name for a MOBI text-encoding
// code. Unrecognized codes fall back to a generic "cp<code>" label
// rather than an empty string, so Name is total over all uint32 input.
func Name(code uint32) string {
	if name, ok := names[code]; ok {
		return name
	}
	return fmt.Sprintf("cp%d", code)
}

// Charmap returns the x/text codec for a MOBI text-encoding code, and
// whether one is known. MOBI6 files only ever declare CP1252 or UTF-8.
func Charmap(code uint32) (encoding.Encoding, bool) {
	switch code {
	case CP1252:
		return charmap.Windows1252, true
	case UTF8:
		return unicode.UTF8, true
	default:
		return nil, false
	}
}
