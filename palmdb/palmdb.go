package palmdb

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// HeaderSize is the fixed size, in bytes, of the PalmDB database header.
	HeaderSize = 78

	// recordHeaderSize is the size in bytes of one entry in the record
	// index that follows the database header.
	recordHeaderSize = 8

	palmEpochOffset = 2082844800 // seconds between 1904-01-01 and 1970-01-01 (Unix epoch)
)

// Kind classifies the container by its PalmDB type/creator tag.
type Kind int

const (
	// KindUnknown is returned only on a malformed tag; Open never returns it.
	KindUnknown Kind = iota
	// KindMOBI is a "BOOKMOBI" container (PalmDOC header + MOBI header + EXTH).
	KindMOBI
	// KindPalmDOC is a "TEXtREAd" container (PalmDOC header only).
	KindPalmDOC
)

// Record is a (offset, length) pair pointing into the byte source.
type Record struct {
	Offset int64
	Length int64
}

// DB is the parsed PalmDB container: its name, type/creator classification,
// and its indexable record table, over the byte source it was opened from.
type DB struct {
	Src  Source
	Name string
	Kind Kind

	CreationDate     time.Time
	ModificationDate time.Time
	UniqueIDSeed     uint32

	// records holds numRecords entries, plus one synthetic trailing entry
	// at index len(records)-1 whose Offset equals the source length. This
	// makes record-length arithmetic (Offset[i+1]-Offset[i]) total.
	records []Record
}

// NumRecords returns the number of real (non-sentinel) records.
func (db *DB) NumRecords() int {
	return len(db.records) - 1
}

// Record returns the i-th record (0-based). The trailing sentinel record is
// not reachable through this accessor.
func (db *DB) Record(i int) (Record, error) {
	if i < 0 || i >= db.NumRecords() {
		return Record{}, fmt.Errorf("palmdb: record index %d out of range [0,%d)", i, db.NumRecords())
	}
	return db.records[i], nil
}

// ReadRecord reads the full contents of record i.
func (db *DB) ReadRecord(i int) ([]byte, error) {
	rec, err := db.Record(i)
	if err != nil {
		return nil, err
	}
	data, err := db.Src.ReadAt(rec.Offset, rec.Length)
	if err != nil {
		return nil, fmt.Errorf("palmdb: read record %d: %w", i, err)
	}
	return data, nil
}

// Open validates and parses the PalmDB container framing over src: the
// fixed 78-byte header, then numRecords 8-byte record-index entries.
func Open(src Source) (*DB, error) {
	if src.Len() < HeaderSize {
		return nil, fmt.Errorf("palmdb: file too short (%d bytes) for a PalmDB header", src.Len())
	}

	header, err := src.ReadAt(0, HeaderSize)
	if err != nil {
		return nil, fmt.Errorf("palmdb: read header: %w", err)
	}

	name := trimName(header[0:32])
	creationDate := binary.BigEndian.Uint32(header[36:40])
	modDate := binary.BigEndian.Uint32(header[40:44])
	uniqueIDSeed := binary.BigEndian.Uint32(header[68:72])
	typeTag := string(header[60:64])
	creatorTag := string(header[64:68])
	numRecords := binary.BigEndian.Uint16(header[76:78])

	if numRecords < 1 {
		return nil, fmt.Errorf("palmdb: numRecords is 0")
	}

	kind, err := classify(typeTag, creatorTag)
	if err != nil {
		return nil, err
	}

	indexSize := int64(numRecords) * recordHeaderSize
	if HeaderSize+indexSize > src.Len() {
		return nil, fmt.Errorf("palmdb: record index (%d entries) runs past end of file", numRecords)
	}
	indexBytes, err := src.ReadAt(HeaderSize, indexSize)
	if err != nil {
		return nil, fmt.Errorf("palmdb: read record index: %w", err)
	}

	offsets := make([]int64, numRecords+1)
	for i := 0; i < int(numRecords); i++ {
		off := binary.BigEndian.Uint32(indexBytes[i*recordHeaderSize : i*recordHeaderSize+4])
		offsets[i] = int64(off)
	}
	offsets[numRecords] = src.Len() // synthetic sentinel, see Record doc

	for i := 0; i < len(offsets)-1; i++ {
		if offsets[i+1] < offsets[i] {
			return nil, fmt.Errorf("palmdb: record offsets are not monotonic at index %d (%d > %d)", i, offsets[i], offsets[i+1])
		}
	}
	if offsets[0] < HeaderSize+indexSize {
		return nil, fmt.Errorf("palmdb: record 0 offset %d overlaps the header/index", offsets[0])
	}

	records := make([]Record, len(offsets))
	for i := 0; i < len(offsets)-1; i++ {
		records[i] = Record{Offset: offsets[i], Length: offsets[i+1] - offsets[i]}
	}
	records[len(offsets)-1] = Record{Offset: offsets[len(offsets)-1], Length: 0}

	return &DB{
		Src:              src,
		Name:             name,
		Kind:             kind,
		CreationDate:     palmTimeToUnix(creationDate),
		ModificationDate: palmTimeToUnix(modDate),
		UniqueIDSeed:     uniqueIDSeed,
		records:          records,
	}, nil
}

func classify(typeTag, creatorTag string) (Kind, error) {
	switch typeTag + creatorTag {
	case "BOOKMOBI":
		return KindMOBI, nil
	case "TEXtREAd":
		return KindPalmDOC, nil
	default:
		return KindUnknown, fmt.Errorf("palmdb: unrecognized type/creator tag %q%q", typeTag, creatorTag)
	}
}

// trimName trims the trailing NUL padding from the fixed 32-byte PalmDB name
// field.
func trimName(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// palmTimeToUnix converts a Palm OS timestamp (seconds since 1904-01-01) to
// a time.Time. A zero Palm timestamp (no date recorded) maps to the zero
// time.Time rather than 1904-01-01.
func palmTimeToUnix(palm uint32) time.Time {
	if palm == 0 {
		return time.Time{}
	}
	return time.Unix(int64(palm)-palmEpochOffset, 0).UTC()
}
