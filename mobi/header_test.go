package mobi

import (
	"encoding/binary"
	"testing"
)

// buildRec0 builds a minimal valid record 0: a 16-byte PalmDOC header
// followed by a MOBI header of hdrLen bytes, and room for the full name
// string appended after the header.
func buildRec0(t *testing.T, hdrLen uint32, fullName string) []byte {
	t.Helper()

	rec0 := make([]byte, palmDOCHeaderLen+int(hdrLen)+len(fullName))

	binary.BigEndian.PutUint16(rec0[0:2], CompressionPalmDOC)
	binary.BigEndian.PutUint32(rec0[4:8], 1024)
	binary.BigEndian.PutUint16(rec0[8:10], 1)
	binary.BigEndian.PutUint16(rec0[10:12], 4096)
	binary.BigEndian.PutUint16(rec0[12:14], EncryptionNone)

	body := rec0[palmDOCHeaderLen:]
	copy(body[mobiTagOffset:mobiTagOffset+4], mobiTag)
	binary.BigEndian.PutUint32(body[mobiHeaderLenOffset:mobiHeaderLenOffset+4], hdrLen)
	binary.BigEndian.PutUint32(body[mobiDocTypeOffset:mobiDocTypeOffset+4], 2)
	binary.BigEndian.PutUint32(body[mobiTextEncodingOffset:mobiTextEncodingOffset+4], EncodingUTF8)
	binary.BigEndian.PutUint32(body[mobiLocaleOffset:mobiLocaleOffset+4], 9)
	binary.BigEndian.PutUint32(body[mobiFirstImageOffset:mobiFirstImageOffset+4], 0xFFFFFFFF)
	binary.BigEndian.PutUint32(body[mobiHuffFirstOffset:mobiHuffFirstOffset+4], 0)
	binary.BigEndian.PutUint32(body[mobiHuffCountOffset:mobiHuffCountOffset+4], 0)
	binary.BigEndian.PutUint32(body[mobiEXTHFlagsOffset:mobiEXTHFlagsOffset+4], exthFlagHasEXTH)
	binary.BigEndian.PutUint16(body[mobiFirstContentOffset:mobiFirstContentOffset+2], 1)
	binary.BigEndian.PutUint16(body[mobiLastContentOffset:mobiLastContentOffset+2], 1)

	nameOffset := palmDOCHeaderLen + int(hdrLen)
	binary.BigEndian.PutUint32(body[mobiFullNameOffOffset:mobiFullNameOffOffset+4], uint32(nameOffset))
	binary.BigEndian.PutUint32(body[mobiFullNameLenOffset:mobiFullNameLenOffset+4], uint32(len(fullName)))
	copy(rec0[nameOffset:], fullName)

	return rec0
}

func TestParsePalmDOCHeaderIgnoresEncryptionField(t *testing.T) {
	// parsePalmDOCHeader itself never rejects on EncryptionType: in a
	// plain TEXtREAd PalmDOC record these bytes are the reading
	// position, not an encryption flag. Only mobi.Open, once it knows
	// the container is a MOBI, applies the encryption check.
	rec0 := buildRec0(t, mobiTrailerFlagsMinLen, "Title")
	binary.BigEndian.PutUint16(rec0[12:14], EncryptionOld)

	h, err := parsePalmDOCHeader(rec0)
	if err != nil {
		t.Fatalf("parsePalmDOCHeader() error = %v, want nil", err)
	}
	if h.EncryptionType != EncryptionOld {
		t.Errorf("EncryptionType = %d, want %d", h.EncryptionType, EncryptionOld)
	}
}

func TestParsePalmDOCHeaderRejectsUnknownCompression(t *testing.T) {
	rec0 := buildRec0(t, mobiTrailerFlagsMinLen, "Title")
	binary.BigEndian.PutUint16(rec0[0:2], 3)

	if _, err := parsePalmDOCHeader(rec0); err == nil {
		t.Fatal("parsePalmDOCHeader() error = nil, want KindUnsupportedCompression")
	}
}

func TestParseMobiHeaderFields(t *testing.T) {
	rec0 := buildRec0(t, mobiTrailerFlagsMinLen, "My Book")

	h, err := parseMobiHeader(rec0)
	if err != nil {
		t.Fatalf("parseMobiHeader() error = %v", err)
	}
	if h.HeaderLength != mobiTrailerFlagsMinLen {
		t.Errorf("HeaderLength = %d, want %d", h.HeaderLength, mobiTrailerFlagsMinLen)
	}
	if !h.HasEXTH {
		t.Error("HasEXTH = false, want true")
	}
	if h.Locale != 9 {
		t.Errorf("Locale = %d, want 9", h.Locale)
	}
	if h.FirstImageRecord != 0xFFFFFFFF {
		t.Errorf("FirstImageRecord = %#x, want no-image sentinel", h.FirstImageRecord)
	}

	name, err := h.fullName(rec0)
	if err != nil {
		t.Fatalf("fullName() error = %v", err)
	}
	if name != "My Book" {
		t.Errorf("fullName() = %q, want %q", name, "My Book")
	}
}

// TestParseMobiHeaderTrailerFlagsBoundary covers the boundary case where
// HeaderLength is exactly 228: just enough to include the trailer flags
// word, which should then be read and decoded.
func TestParseMobiHeaderTrailerFlagsBoundary(t *testing.T) {
	rec0 := buildRec0(t, mobiTrailerFlagsMinLen, "Title")
	body := rec0[palmDOCHeaderLen:]
	// bit0 = multibyte, bit1 = one trailing-entry type present.
	binary.BigEndian.PutUint16(body[mobiTrailerFlagsOffset:mobiTrailerFlagsOffset+2], 0b11)

	h, err := parseMobiHeader(rec0)
	if err != nil {
		t.Fatalf("parseMobiHeader() error = %v", err)
	}
	if !h.Multibyte {
		t.Error("Multibyte = false, want true")
	}
	if h.TrailersCount != 1 {
		t.Errorf("TrailersCount = %d, want 1", h.TrailersCount)
	}
}

// TestParseMobiHeaderBelowTrailerFlagsBoundary covers a header two bytes
// short of mobiTrailerFlagsMinLen: the trailer flags word must not be
// read, and no error should result from its absence.
func TestParseMobiHeaderBelowTrailerFlagsBoundary(t *testing.T) {
	rec0 := buildRec0(t, mobiTrailerFlagsMinLen-2, "Title")

	h, err := parseMobiHeader(rec0)
	if err != nil {
		t.Fatalf("parseMobiHeader() error = %v", err)
	}
	if h.Multibyte || h.TrailersCount != 0 {
		t.Errorf("Multibyte = %v, TrailersCount = %d, want false/0 below the trailer-flags boundary", h.Multibyte, h.TrailersCount)
	}
}

func TestParseMobiHeaderRejectsMissingTag(t *testing.T) {
	rec0 := buildRec0(t, mobiTrailerFlagsMinLen, "Title")
	copy(rec0[palmDOCHeaderLen:palmDOCHeaderLen+4], "XXXX")

	if _, err := parseMobiHeader(rec0); err == nil {
		t.Fatal("parseMobiHeader() error = nil, want KindHeaderMalformed for missing MOBI tag")
	}
}

func TestParseMobiHeaderRejectsShortHeader(t *testing.T) {
	rec0 := buildRec0(t, mobiTrailerFlagsMinLen, "Title")
	body := rec0[palmDOCHeaderLen:]
	binary.BigEndian.PutUint32(body[mobiHeaderLenOffset:mobiHeaderLenOffset+4], 40)

	if _, err := parseMobiHeader(rec0); err == nil {
		t.Fatal("parseMobiHeader() error = nil, want KindHeaderMalformed for header shorter than required fields")
	}
}

func TestFullNameOutOfBounds(t *testing.T) {
	rec0 := buildRec0(t, mobiTrailerFlagsMinLen, "Title")
	body := rec0[palmDOCHeaderLen:]
	binary.BigEndian.PutUint32(body[mobiFullNameLenOffset:mobiFullNameLenOffset+4], uint32(len(rec0)))

	h, err := parseMobiHeader(rec0)
	if err != nil {
		t.Fatalf("parseMobiHeader() error = %v", err)
	}
	if _, err := h.fullName(rec0); err == nil {
		t.Fatal("fullName() error = nil, want out-of-bounds error")
	}
}
