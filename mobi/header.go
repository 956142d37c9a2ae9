package mobi

import (
	"encoding/binary"
	"fmt"
)

// Compression scheme codes carried in the PalmDOC header.
const (
	CompressionNone     = 1
	CompressionPalmDOC  = 2
	CompressionHuffCDIC = 17480
)

// Encryption flag codes carried in the PalmDOC header.
const (
	EncryptionNone = 0
	EncryptionOld  = 1
	EncryptionNew  = 2
)

// Well-known text encoding codes carried in the MOBI header.
const (
	EncodingCP1252 = 1252
	EncodingUTF8   = 65001
)

const palmDOCHeaderLen = 16

// palmDOCHeader is the 16-byte header every PalmDOC and MOBI record 0
// starts with, per spec.md §4.3. EncryptionType is only meaningful for
// a MOBI container; in a plain TEXtREAd PalmDOC record these same bytes
// hold the reader's last reading position, so the caller must not reject
// on this field without first checking the container kind.
type palmDOCHeader struct {
	Compression         uint16
	UncompressedDocSize uint32
	RecordsCount        uint16
	MaxRecSize          uint16
	EncryptionType      uint16
}

func parsePalmDOCHeader(rec0 []byte) (*palmDOCHeader, error) {
	if len(rec0) < palmDOCHeaderLen {
		return nil, newError(KindContainerMalformed, "mobi.parsePalmDOCHeader", fmt.Errorf("record 0 is %d bytes, need at least %d", len(rec0), palmDOCHeaderLen))
	}
	h := &palmDOCHeader{
		Compression:         binary.BigEndian.Uint16(rec0[0:2]),
		UncompressedDocSize: binary.BigEndian.Uint32(rec0[4:8]),
		RecordsCount:        binary.BigEndian.Uint16(rec0[8:10]),
		MaxRecSize:          binary.BigEndian.Uint16(rec0[10:12]),
		EncryptionType:      binary.BigEndian.Uint16(rec0[12:14]),
	}
	switch h.Compression {
	case CompressionNone, CompressionPalmDOC, CompressionHuffCDIC:
	default:
		return nil, newError(KindUnsupportedCompression, "mobi.parsePalmDOCHeader", fmt.Errorf("compression code %d", h.Compression))
	}
	return h, nil
}

// Byte offsets of the MOBI header fields this decoder needs, relative to
// the start of the "MOBI" tag (i.e. rec0[palmDOCHeaderLen:]). These match
// the layout documented for the MOBI6 header.
const (
	mobiTagOffset          = 0
	mobiHeaderLenOffset    = 4
	mobiDocTypeOffset      = 8
	mobiTextEncodingOffset = 12
	mobiFullNameOffOffset  = 68
	mobiFullNameLenOffset  = 72
	mobiLocaleOffset       = 76
	mobiFirstImageOffset   = 92
	mobiHuffFirstOffset    = 96
	mobiHuffCountOffset    = 100
	mobiEXTHFlagsOffset    = 112
	mobiFirstContentOffset = 176
	mobiLastContentOffset  = 178
	// mobiTrailerFlagsOffset is only present when HeaderLength >= 228: the
	// field sits at the very end of the minimal 228-byte header.
	mobiTrailerFlagsOffset = 226
	mobiTrailerFlagsMinLen = 228

	mobiTag = "MOBI"

	exthFlagHasEXTH = 1 << 6
)

// mobiHeader is the subset of the variable-length MOBI header this
// decoder parses, per spec.md §4.3 and §4.6.
type mobiHeader struct {
	HeaderLength uint32
	DocType      uint32
	TextEncoding uint32
	Locale       uint32

	FullNameOffset uint32
	FullNameLength uint32

	FirstImageRecord uint32

	HuffmanFirstRec uint32
	HuffmanRecCount uint32

	HasEXTH bool

	FirstContentRecord uint16
	LastContentRecord  uint16

	Multibyte     bool
	TrailersCount int
}

// parseMobiHeader parses the MOBI header that follows the PalmDOC header
// in record 0.
func parseMobiHeader(rec0 []byte) (*mobiHeader, error) {
	if len(rec0) < palmDOCHeaderLen+mobiHeaderLenOffset+4 {
		return nil, newError(KindHeaderMalformed, "mobi.parseMobiHeader", fmt.Errorf("record 0 too short to hold a MOBI header length"))
	}
	body := rec0[palmDOCHeaderLen:]

	if string(body[mobiTagOffset:mobiTagOffset+4]) != mobiTag {
		return nil, newError(KindHeaderMalformed, "mobi.parseMobiHeader", fmt.Errorf("missing %q tag", mobiTag))
	}
	hdrLen := binary.BigEndian.Uint32(body[mobiHeaderLenOffset : mobiHeaderLenOffset+4])
	if int(hdrLen) < mobiLastContentOffset+2 || len(body) < int(hdrLen) {
		return nil, newError(KindHeaderMalformed, "mobi.parseMobiHeader", fmt.Errorf("header length %d does not fit record (have %d bytes)", hdrLen, len(body)))
	}

	h := &mobiHeader{
		HeaderLength:       hdrLen,
		DocType:            binary.BigEndian.Uint32(body[mobiDocTypeOffset : mobiDocTypeOffset+4]),
		TextEncoding:       binary.BigEndian.Uint32(body[mobiTextEncodingOffset : mobiTextEncodingOffset+4]),
		Locale:             binary.BigEndian.Uint32(body[mobiLocaleOffset : mobiLocaleOffset+4]),
		FullNameOffset:     binary.BigEndian.Uint32(body[mobiFullNameOffOffset : mobiFullNameOffOffset+4]),
		FullNameLength:     binary.BigEndian.Uint32(body[mobiFullNameLenOffset : mobiFullNameLenOffset+4]),
		FirstImageRecord:   binary.BigEndian.Uint32(body[mobiFirstImageOffset : mobiFirstImageOffset+4]),
		HuffmanFirstRec:    binary.BigEndian.Uint32(body[mobiHuffFirstOffset : mobiHuffFirstOffset+4]),
		HuffmanRecCount:    binary.BigEndian.Uint32(body[mobiHuffCountOffset : mobiHuffCountOffset+4]),
		FirstContentRecord: binary.BigEndian.Uint16(body[mobiFirstContentOffset : mobiFirstContentOffset+2]),
		LastContentRecord:  binary.BigEndian.Uint16(body[mobiLastContentOffset : mobiLastContentOffset+2]),
	}

	exthFlags := binary.BigEndian.Uint32(body[mobiEXTHFlagsOffset : mobiEXTHFlagsOffset+4])
	h.HasEXTH = exthFlags&exthFlagHasEXTH != 0

	if hdrLen >= mobiTrailerFlagsMinLen && len(body) >= mobiTrailerFlagsOffset+2 {
		flags := binary.BigEndian.Uint16(body[mobiTrailerFlagsOffset : mobiTrailerFlagsOffset+2])
		h.Multibyte = flags&1 != 0
		for f := flags >> 1; f != 0; f >>= 1 {
			if f&1 != 0 {
				h.TrailersCount++
			}
		}
	}

	return h, nil
}

// fullName returns the book's full title, read out of record 0 at the
// offset and length the MOBI header specifies.
func (h *mobiHeader) fullName(rec0 []byte) (string, error) {
	start := int(h.FullNameOffset)
	end := start + int(h.FullNameLength)
	if start < 0 || end < start || end > len(rec0) {
		return "", newError(KindHeaderMalformed, "mobi.mobiHeader.fullName", fmt.Errorf("full name range [%d:%d] out of bounds (record is %d bytes)", start, end, len(rec0)))
	}
	return string(rec0[start:end]), nil
}
