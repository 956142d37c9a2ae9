package mobi

import "fmt"

// decompressPalmDOC decompresses PalmDOC (run-length-with-back-references)
// compressed data into dst, returning the number of bytes written. dst
// must already be sized to the expected output length; writing past its
// end is a KindDecompressionOverflow error rather than a silent resize.
//
// A lone trailing zero byte in src after the last byte that produces
// output is tolerated and ignored — some encoders emit it as a debugging
// terminator.
func decompressPalmDOC(src []byte, dst []byte) (int, error) {
	si, di := 0, 0

	for si < len(src) {
		c := src[si]

		// Tolerate a trailing debug NUL: it would try to emit a literal
		// zero into an already-full destination, one byte before the end
		// of source.
		if c == 0 && di >= len(dst) && si == len(src)-1 {
			si++
			break
		}

		si++

		switch {
		case c == 0:
			if di >= len(dst) {
				return 0, newError(KindDecompressionOverflow, "mobi.decompressPalmDOC", nil)
			}
			dst[di] = 0
			di++

		case c >= 1 && c <= 8:
			n := int(c)
			if si+n > len(src) {
				return 0, newError(KindContainerMalformed, "mobi.decompressPalmDOC", fmt.Errorf("literal run of %d bytes runs past end of source", n))
			}
			if di+n > len(dst) {
				return 0, newError(KindDecompressionOverflow, "mobi.decompressPalmDOC", nil)
			}
			copy(dst[di:di+n], src[si:si+n])
			si += n
			di += n

		case c >= 9 && c <= 127:
			if di >= len(dst) {
				return 0, newError(KindDecompressionOverflow, "mobi.decompressPalmDOC", nil)
			}
			dst[di] = c
			di++

		case c >= 128 && c <= 191:
			if si >= len(src) {
				return 0, newError(KindContainerMalformed, "mobi.decompressPalmDOC", fmt.Errorf("back-reference pair truncated at end of source"))
			}
			c2 := src[si]
			si++
			w := uint16(c)<<8 | uint16(c2)
			back := int((w >> 3) & 0x7FF)
			n := int(w&7) + 3

			if back > di || back == 0 {
				return 0, newError(KindContainerMalformed, "mobi.decompressPalmDOC", fmt.Errorf("back-reference of %d bytes precedes start of output", back))
			}
			if di+n > len(dst) {
				return 0, newError(KindDecompressionOverflow, "mobi.decompressPalmDOC", nil)
			}
			// Back-references may overlap the current write position, so
			// copy byte by byte rather than with copy().
			start := di - back
			for i := 0; i < n; i++ {
				dst[di+i] = dst[start+i]
			}
			di += n

		default: // 192..255
			if di+2 > len(dst) {
				return 0, newError(KindDecompressionOverflow, "mobi.decompressPalmDOC", nil)
			}
			dst[di] = ' '
			dst[di+1] = c ^ 0x80
			di += 2
		}
	}

	return di, nil
}
