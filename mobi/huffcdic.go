package mobi

import (
	"encoding/binary"
	"fmt"

	"github.com/htol/mobidecode/palmdb"
)

const (
	maxHuffDictionaries = 32
	huffHeaderTag       = "HUFF"
	huffHeaderLen       = 24
	cdicHeaderTag       = "CDIC"
	cdicHeaderLen       = 16
)

// huffDict is a single HUFF/CDIC symbol dictionary: a byte slice holding
// both the per-symbol offset table and the symbol bodies it points into.
type huffDict struct {
	data []byte
}

// huffCDIC holds the fully-configured HUFF/CDIC decoder state: the cache
// and base tables from the HUFF record, and the dictionaries gathered
// across one or more CDIC records.
type huffCDIC struct {
	cacheTable [256]uint32
	baseTable  [64]uint32
	codeLen    uint32 // bits
	dicts      []huffDict
}

// newHuffCDIC configures a decoder from the HUFF record (huffRec) and the
// CDIC records that follow it (cdicRecs), per spec.md §4.5 phases 1-2.
func newHuffCDIC(huffRec []byte, cdicRecs [][]byte) (*huffCDIC, error) {
	if len(huffRec) < huffHeaderLen+1024+256 {
		return nil, newError(KindHeaderMalformed, "mobi.newHuffCDIC", fmt.Errorf("HUFF record too short (%d bytes)", len(huffRec)))
	}
	if string(huffRec[0:4]) != huffHeaderTag {
		return nil, newError(KindHeaderMalformed, "mobi.newHuffCDIC", fmt.Errorf("HUFF record missing %q tag", huffHeaderTag))
	}
	hdrLen := binary.BigEndian.Uint32(huffRec[4:8])
	if hdrLen != huffHeaderLen {
		return nil, newError(KindHeaderMalformed, "mobi.newHuffCDIC", fmt.Errorf("HUFF header length = %d, want %d", hdrLen, huffHeaderLen))
	}

	h := &huffCDIC{}
	for i := 0; i < 256; i++ {
		h.cacheTable[i] = binary.BigEndian.Uint32(huffRec[huffHeaderLen+i*4:])
	}
	for i := 0; i < 64; i++ {
		h.baseTable[i] = binary.BigEndian.Uint32(huffRec[huffHeaderLen+1024+i*4:])
	}

	if len(cdicRecs) == 0 {
		return nil, newError(KindHeaderMalformed, "mobi.newHuffCDIC", fmt.Errorf("no CDIC records supplied"))
	}
	if len(cdicRecs) > maxHuffDictionaries {
		return nil, newError(KindHuffTableCorrupt, "mobi.newHuffCDIC", fmt.Errorf("%d CDIC records exceeds max of %d", len(cdicRecs), maxHuffDictionaries))
	}

	for _, rec := range cdicRecs {
		if len(rec) < cdicHeaderLen {
			return nil, newError(KindHeaderMalformed, "mobi.newHuffCDIC", fmt.Errorf("CDIC record too short (%d bytes)", len(rec)))
		}
		if string(rec[0:4]) != cdicHeaderTag {
			return nil, newError(KindHeaderMalformed, "mobi.newHuffCDIC", fmt.Errorf("CDIC record missing %q tag", cdicHeaderTag))
		}
		codeLen := binary.BigEndian.Uint32(rec[12:16])
		if h.codeLen == 0 {
			h.codeLen = codeLen
		} else if h.codeLen != codeLen {
			return nil, newError(KindHeaderMalformed, "mobi.newHuffCDIC", fmt.Errorf("CDIC code length %d disagrees with earlier %d", codeLen, h.codeLen))
		}

		dictData := rec[cdicHeaderLen:]
		if len(dictData) <= (1 << h.codeLen) {
			return nil, newError(KindHuffTableCorrupt, "mobi.newHuffCDIC", fmt.Errorf("CDIC dictionary of %d bytes too small for code length %d", len(dictData), h.codeLen))
		}
		h.dicts = append(h.dicts, huffDict{data: dictData})
	}

	return h, nil
}

// decode decompresses src into dst, returning the number of bytes written.
func (h *huffCDIC) decode(src []byte, dst []byte) (int, error) {
	return h.decodeInto(src, dst, 0, 0)
}

// decodeInto is the recursive entry point: symbols whose body is itself
// HUFF-compressed are decoded by calling back into decodeInto one level
// deeper. depth guards against pathological recursive symbol chains.
func (h *huffCDIC) decodeInto(src []byte, dst []byte, di int, depth int) (int, error) {
	if depth > 32 {
		return di, newError(KindHuffTableCorrupt, "mobi.huffCDIC.decode", fmt.Errorf("recursive symbol nesting exceeds 32 levels"))
	}

	br := palmdb.NewBitReader(src)
	bitsConsumed := 0

	for {
		br.Eat(bitsConsumed)
		if br.BitsLeft() <= 0 {
			break
		}

		bits := br.Peek(32)
		if br.BitsLeft() < 8 && bits == 0 {
			break // trailing zero-pad
		}

		v := h.cacheTable[bits>>24]
		codeLen := int(v & 0x1F)
		if codeLen == 0 {
			return di, newError(KindHuffTableCorrupt, "mobi.huffCDIC.decode", fmt.Errorf("cache table entry has zero code length"))
		}

		var code uint32
		if v&0x80 != 0 {
			code = (v >> 8) - (bits >> uint(32-codeLen))
		} else {
			cl := codeLen
			for h.baseTable[2*(cl-1)] > bits>>uint(32-cl) {
				cl++
				if cl > 32 {
					return di, newError(KindHuffTableCorrupt, "mobi.huffCDIC.decode", fmt.Errorf("code length overflow while scanning base table"))
				}
			}
			code = h.baseTable[2*(cl-1)+1] - (bits >> uint(32-cl))
			codeLen = cl
		}

		var err error
		di, err = h.decodeSymbol(code, dst, di, depth)
		if err != nil {
			return di, err
		}

		bitsConsumed = codeLen
	}

	return di, nil
}

// decodeSymbol resolves code to a dictionary entry and either copies its
// body verbatim or, if the body is itself HUFF-compressed, recurses.
func (h *huffCDIC) decodeSymbol(code uint32, dst []byte, di int, depth int) (int, error) {
	dictsCount := uint32(len(h.dicts))
	dict := code >> h.codeLen
	idx := code & ((1 << h.codeLen) - 1)

	if dict >= dictsCount {
		return di, newError(KindHuffTableCorrupt, "mobi.huffCDIC.decodeSymbol", fmt.Errorf("dictionary index %d >= count %d", dict, dictsCount))
	}
	data := h.dicts[dict].data

	offPos := int(idx) * 2
	if offPos+2 > len(data) {
		return di, newError(KindHuffTableCorrupt, "mobi.huffCDIC.decodeSymbol", fmt.Errorf("symbol offset index %d out of range", idx))
	}
	offset := int(binary.BigEndian.Uint16(data[offPos:]))

	if offset+2 > len(data) {
		return di, newError(KindHuffTableCorrupt, "mobi.huffCDIC.decodeSymbol", fmt.Errorf("symbol offset %d out of range", offset))
	}
	symLen := binary.BigEndian.Uint16(data[offset:])
	bodyStart := offset + 2

	if symLen&0x8000 == 0 {
		if bodyStart+int(symLen) > len(data) {
			return di, newError(KindHuffTableCorrupt, "mobi.huffCDIC.decodeSymbol", fmt.Errorf("recursive symbol body runs past dictionary end"))
		}
		var err error
		di, err = h.decodeInto(data[bodyStart:bodyStart+int(symLen)], dst, di, depth+1)
		return di, err
	}

	n := int(symLen & 0x7FFF)
	if n > 127 {
		return di, newError(KindHuffTableCorrupt, "mobi.huffCDIC.decodeSymbol", fmt.Errorf("literal symbol length %d exceeds 127", n))
	}
	if bodyStart+n > len(data) {
		return di, newError(KindHuffTableCorrupt, "mobi.huffCDIC.decodeSymbol", fmt.Errorf("literal symbol body runs past dictionary end"))
	}
	if di+n > len(dst) {
		return di, newError(KindDecompressionOverflow, "mobi.huffCDIC.decodeSymbol", nil)
	}
	copy(dst[di:di+n], data[bodyStart:bodyStart+n])
	return di + n, nil
}
