package mobi

import (
	"encoding/binary"
	"testing"
)

// buildEXTH builds a raw EXTH table at the start of a byte slice: a
// 12-byte header followed by the given (type, payload) records.
func buildEXTH(t *testing.T, records ...struct {
	typ     uint32
	payload []byte
}) []byte {
	t.Helper()

	total := exthHeaderLen
	for _, r := range records {
		total += exthRecMinLen + len(r.payload)
	}

	buf := make([]byte, total)
	copy(buf[0:4], exthTag)
	binary.BigEndian.PutUint32(buf[4:8], uint32(total))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(records)))

	pos := exthHeaderLen
	for _, r := range records {
		recLen := exthRecMinLen + len(r.payload)
		binary.BigEndian.PutUint32(buf[pos:pos+4], r.typ)
		binary.BigEndian.PutUint32(buf[pos+4:pos+8], uint32(recLen))
		copy(buf[pos+exthRecMinLen:pos+recLen], r.payload)
		pos += recLen
	}

	return buf
}

func TestParseEXTHAuthorPublisherTitleCover(t *testing.T) {
	cover := make([]byte, 4)
	binary.BigEndian.PutUint32(cover, 3)

	buf := buildEXTH(t,
		struct {
			typ     uint32
			payload []byte
		}{exthAuthor, []byte("Jane Doe")},
		struct {
			typ     uint32
			payload []byte
		}{exthPublisher, []byte("Acme Books")},
		struct {
			typ     uint32
			payload []byte
		}{exthTitle, []byte("The Title")},
		struct {
			typ     uint32
			payload []byte
		}{exthCoverOffset, cover},
	)

	e, err := parseEXTH(buf, 0)
	if err != nil {
		t.Fatalf("parseEXTH() error = %v", err)
	}
	if e.Author != "Jane Doe" {
		t.Errorf("Author = %q, want %q", e.Author, "Jane Doe")
	}
	if e.Publisher != "Acme Books" {
		t.Errorf("Publisher = %q, want %q", e.Publisher, "Acme Books")
	}
	if e.Title != "The Title" {
		t.Errorf("Title = %q, want %q", e.Title, "The Title")
	}
	if !e.HasCover || e.CoverRec != 3 {
		t.Errorf("HasCover = %v, CoverRec = %d, want true/3", e.HasCover, e.CoverRec)
	}
}

func TestParseEXTHAuthorAppends(t *testing.T) {
	buf := buildEXTH(t,
		struct {
			typ     uint32
			payload []byte
		}{exthAuthor, []byte("First Author")},
		struct {
			typ     uint32
			payload []byte
		}{exthAuthor, []byte("Second Author")},
	)

	e, err := parseEXTH(buf, 0)
	if err != nil {
		t.Fatalf("parseEXTH() error = %v", err)
	}
	want := "First Author & Second Author"
	if e.Author != want {
		t.Errorf("Author = %q, want %q", e.Author, want)
	}
}

func TestParseEXTHTitleLastWins(t *testing.T) {
	buf := buildEXTH(t,
		struct {
			typ     uint32
			payload []byte
		}{exthTitle, []byte("Draft Title")},
		struct {
			typ     uint32
			payload []byte
		}{exthTitle, []byte("Final Title")},
	)

	e, err := parseEXTH(buf, 0)
	if err != nil {
		t.Fatalf("parseEXTH() error = %v", err)
	}
	if e.Title != "Final Title" {
		t.Errorf("Title = %q, want %q", e.Title, "Final Title")
	}
}

func TestParseEXTHLanguage(t *testing.T) {
	buf := buildEXTH(t, struct {
		typ     uint32
		payload []byte
	}{exthLanguage, []byte("en-US")})

	e, err := parseEXTH(buf, 0)
	if err != nil {
		t.Fatalf("parseEXTH() error = %v", err)
	}
	if e.Language != "en-US" {
		t.Errorf("Language = %q, want %q", e.Language, "en-US")
	}
}

func TestParseEXTHUnknownTypePreservedInRaw(t *testing.T) {
	buf := buildEXTH(t, struct {
		typ     uint32
		payload []byte
	}{999, []byte("whatever")})

	e, err := parseEXTH(buf, 0)
	if err != nil {
		t.Fatalf("parseEXTH() error = %v", err)
	}
	if got := string(e.Raw[999][0]); got != "whatever" {
		t.Errorf("Raw[999][0] = %q, want %q", got, "whatever")
	}
}

func TestParseEXTHRejectsMissingTag(t *testing.T) {
	buf := buildEXTH(t, struct {
		typ     uint32
		payload []byte
	}{exthAuthor, []byte("A")})
	copy(buf[0:4], "XXXX")

	if _, err := parseEXTH(buf, 0); err == nil {
		t.Fatal("parseEXTH() error = nil, want KindHeaderMalformed for missing EXTH tag")
	}
}

func TestParseEXTHRejectsShortRecord(t *testing.T) {
	buf := buildEXTH(t, struct {
		typ     uint32
		payload []byte
	}{exthAuthor, []byte("A")})
	// Shrink the declared record length below the 8-byte minimum.
	binary.BigEndian.PutUint32(buf[exthHeaderLen+4:exthHeaderLen+8], 4)

	if _, err := parseEXTH(buf, 0); err == nil {
		t.Fatal("parseEXTH() error = nil, want KindHeaderMalformed for undersized record")
	}
}

func TestParseEXTHRejectsRecordPastHeaderEnd(t *testing.T) {
	buf := buildEXTH(t, struct {
		typ     uint32
		payload []byte
	}{exthAuthor, []byte("A")})
	binary.BigEndian.PutUint32(buf[exthHeaderLen+4:exthHeaderLen+8], 1000)

	if _, err := parseEXTH(buf, 0); err == nil {
		t.Fatal("parseEXTH() error = nil, want KindHeaderMalformed for record past header end")
	}
}
