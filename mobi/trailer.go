package mobi

import (
	"fmt"

	"github.com/htol/mobidecode/varint"
)

// stripTrailers shrinks the visible length of a body record in place by
// removing its trailing junk-byte entries, per spec.md §4.8. It returns
// the trimmed record; the removed suffix is never inspected further.
func stripTrailers(rec []byte, trailersCount int, multibyte bool) ([]byte, error) {
	visible := len(rec)

	for i := 0; i < trailersCount; i++ {
		if visible == 0 {
			return nil, newError(KindContainerMalformed, "mobi.stripTrailers", fmt.Errorf("trailer %d: record already empty", i))
		}
		n := int(varint.TrailingEntrySize(rec[:visible]))
		if n >= visible {
			return nil, newError(KindContainerMalformed, "mobi.stripTrailers", fmt.Errorf("trailer %d: size %d >= visible length %d", i, n, visible))
		}
		visible -= n
	}

	if multibyte {
		if visible == 0 {
			return nil, newError(KindContainerMalformed, "mobi.stripTrailers", fmt.Errorf("multibyte trailer: record already empty"))
		}
		m := int(rec[visible-1]&3) + 1
		if visible < m {
			return nil, newError(KindContainerMalformed, "mobi.stripTrailers", fmt.Errorf("multibyte trailer: size %d > visible length %d", m, visible))
		}
		visible -= m
	}

	return rec[:visible], nil
}
