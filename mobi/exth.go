package mobi

import (
	"encoding/binary"
	"fmt"
)

// EXTH record type constants for the record types this decoder
// interprets. Every record, of these types or any other, is also
// preserved verbatim in Raw; other types are not otherwise acted on.
const (
	exthAuthor      = 100
	exthPublisher   = 101
	exthCoverOffset = 201
	exthTitle       = 503
	exthLanguage    = 524
)

const (
	exthTag       = "EXTH"
	exthHeaderLen = 12
	exthRecMinLen = 8
)

// exth holds the parsed EXTH metadata table: the handful of record
// types this decoder recognizes, plus the raw type->payloads map for
// every record (recognized or not), preserved in arrival order.
type exth struct {
	Author    string
	Publisher string
	Title     string
	Language  string
	HasCover  bool
	CoverRec  uint32 // record index, relative to the first image record

	Raw map[uint32][][]byte
}

// parseEXTH parses an EXTH metadata table starting at the given offset
// within rec0, per spec.md §4.3: a 12-byte header followed by
// variable-length records, each at least 8 bytes (type + length).
//
// Per-type semantics: type 100 (author) appends across repeated
// records, separated by " & "; type 503 (title) overrides the MOBI
// full name, with the last occurrence winning; type 201 (cover offset)
// is read as a big-endian uint32 record index.
func parseEXTH(rec0 []byte, offset int) (*exth, error) {
	if offset < 0 || offset+exthHeaderLen > len(rec0) {
		return nil, newError(KindHeaderMalformed, "mobi.parseEXTH", fmt.Errorf("EXTH header at offset %d does not fit record (%d bytes)", offset, len(rec0)))
	}
	if string(rec0[offset:offset+4]) != exthTag {
		return nil, newError(KindHeaderMalformed, "mobi.parseEXTH", fmt.Errorf("missing %q tag", exthTag))
	}
	hdrLen := binary.BigEndian.Uint32(rec0[offset+4 : offset+8])
	count := binary.BigEndian.Uint32(rec0[offset+8 : offset+12])
	if offset+int(hdrLen) > len(rec0) {
		return nil, newError(KindHeaderMalformed, "mobi.parseEXTH", fmt.Errorf("EXTH header length %d does not fit record", hdrLen))
	}

	e := &exth{Raw: make(map[uint32][][]byte)}
	pos := offset + exthHeaderLen
	end := offset + int(hdrLen)

	for i := uint32(0); i < count; i++ {
		if pos+exthRecMinLen > end {
			return nil, newError(KindHeaderMalformed, "mobi.parseEXTH", fmt.Errorf("EXTH record %d runs past header end", i))
		}
		recType := binary.BigEndian.Uint32(rec0[pos : pos+4])
		recLen := binary.BigEndian.Uint32(rec0[pos+4 : pos+8])
		if recLen < exthRecMinLen {
			return nil, newError(KindHeaderMalformed, "mobi.parseEXTH", fmt.Errorf("EXTH record %d has length %d, want >= %d", i, recLen, exthRecMinLen))
		}
		if pos+int(recLen) > end {
			return nil, newError(KindHeaderMalformed, "mobi.parseEXTH", fmt.Errorf("EXTH record %d of length %d runs past header end", i, recLen))
		}
		payload := rec0[pos+exthRecMinLen : pos+int(recLen)]
		e.Raw[recType] = append(e.Raw[recType], payload)

		switch recType {
		case exthAuthor:
			if e.Author == "" {
				e.Author = string(payload)
			} else {
				e.Author += " & " + string(payload)
			}
		case exthPublisher:
			e.Publisher = string(payload)
		case exthTitle:
			e.Title = string(payload)
		case exthLanguage:
			e.Language = string(payload)
		case exthCoverOffset:
			if len(payload) < 4 {
				return nil, newError(KindHeaderMalformed, "mobi.parseEXTH", fmt.Errorf("cover offset record has %d bytes, want 4", len(payload)))
			}
			e.HasCover = true
			e.CoverRec = binary.BigEndian.Uint32(payload[0:4])
		}

		pos += int(recLen)
	}

	return e, nil
}
