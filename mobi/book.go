package mobi

import (
	"fmt"
	"time"

	"github.com/htol/mobidecode/palmdb"
	"github.com/htol/mobidecode/textencoding"
	"golang.org/x/text/encoding"
)

// Book is the fully assembled result of decoding a PalmDOC/MOBI
// container: document metadata, the reconstructed text body, and any
// embedded images.
type Book struct {
	Title     string
	Author    string
	Publisher string
	Language  string

	// FullName is the complete, untruncated record-0 name, kept
	// alongside Title (which EXTH 503 may have overridden).
	FullName string

	Locale       uint32
	TextEncoding uint32

	UniqueID         uint32
	CreationDate     time.Time
	ModificationDate time.Time

	// Body is the reconstructed text. With WithStrictSize it is exactly
	// uncompressedDocSize bytes long on success; without it, Body is
	// returned as decoded even when its length differs.
	Body []byte

	// Images holds one slot per record in the image section, in record
	// order; a slot whose Data is nil is an auxiliary record (FLIS,
	// FCIS, ...) rather than a missing image.
	Images []Image

	cover    Image
	hasCover bool
}

// EncodingName returns the canonical name of the book's declared text
// encoding (e.g. "utf-8", "windows-1252", or "cp<code>" for anything
// unrecognized), per spec.md §6's text_encoding reporting requirement.
// Body bytes are returned exactly as stored; callers that need decoded
// text should transcode with Charmap's result themselves.
func (b *Book) EncodingName() string {
	return textencoding.Name(b.TextEncoding)
}

// Charmap returns the x/text codec for the book's declared text
// encoding, and whether one is known.
func (b *Book) Charmap() (encoding.Encoding, bool) {
	return textencoding.Charmap(b.TextEncoding)
}

// Image returns the image addressed by recindex, the 1-based index the
// MOBI HTML format uses in its <img recindex="N"> attribute, per
// spec.md §4.7 "External indexing". It reports ok=false for an
// out-of-range index or an empty (auxiliary-record) slot.
func (b *Book) Image(recindex int) (*Image, bool) {
	i := recindex - 1
	if i < 0 || i >= len(b.Images) || b.Images[i].Data == nil {
		return nil, false
	}
	return &b.Images[i], true
}

// Cover returns the selected cover image, if any.
func (b *Book) Cover() (*Image, bool) {
	if !b.hasCover {
		return nil, false
	}
	return &b.cover, true
}

// OpenOption configures mobi.Open/mobi.OpenFile. The set is small on
// purpose: the core's only behavioral knob is how strictly it checks
// the reconstructed body length against the header's declared size.
type OpenOption func(*openConfig)

type openConfig struct {
	strictSize bool
}

// WithStrictSize makes Open reject a Book whose reconstructed body
// length differs from the PalmDOC header's declared uncompressedDocSize
// (KindSizeMismatch), instead of the default of returning the body as
// decoded, per spec.md §7's SizeMismatch policy.
func WithStrictSize() OpenOption {
	return func(c *openConfig) { c.strictSize = true }
}

// OpenFile opens path as a PalmDB container and decodes it. The
// returned Book owns no file handle; the source is closed before
// OpenFile returns.
func OpenFile(path string, opts ...OpenOption) (*Book, error) {
	src, err := palmdb.OpenFile(path)
	if err != nil {
		return nil, newError(KindIO, "mobi.OpenFile", err)
	}
	defer src.Close()

	return Open(src, opts...)
}

// Open parses src as a PalmDB container and assembles the Book it
// describes: PalmDOC/MOBI headers, EXTH metadata, HUFF/CDIC setup,
// image loading, and the decompressed text body, per spec.md §4.6.
//
// Open and the decoders it drives do bit-granular, attacker-controlled
// arithmetic (shift counts and slice bounds derived straight from file
// bytes). Every stage is written to validate before indexing, but as a
// safety net any panic that nonetheless escapes is recovered here and
// turned into a KindContainerMalformed error, following
// bep-imagemeta.Decode's recover()-to-error pattern — this is a
// backstop, not a substitute for the explicit bounds checks.
func Open(src palmdb.Source, opts ...OpenOption) (book *Book, err error) {
	cfg := &openConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	defer func() {
		if r := recover(); r != nil {
			book = nil
			if e, ok := r.(error); ok {
				err = newError(KindContainerMalformed, "mobi.Open", fmt.Errorf("recovered panic: %w", e))
			} else {
				err = newError(KindContainerMalformed, "mobi.Open", fmt.Errorf("recovered panic: %v", r))
			}
		}
	}()

	db, err := palmdb.Open(src)
	if err != nil {
		return nil, newError(KindContainerMalformed, "mobi.Open", err)
	}

	rec0, err := db.ReadRecord(0)
	if err != nil {
		return nil, newError(KindIO, "mobi.Open", err)
	}

	pdoc, err := parsePalmDOCHeader(rec0)
	if err != nil {
		return nil, err
	}

	book = &Book{
		Title:            db.Name,
		FullName:         db.Name,
		UniqueID:         db.UniqueIDSeed,
		CreationDate:     db.CreationDate,
		ModificationDate: db.ModificationDate,
	}

	var (
		e                *exth
		firstImageRecord = -1
		imagesCount      = 0
		huffFirstRec     uint32
		huffRecCount     uint32
		trailersCount    = 0
		multibyte        = false
	)

	if db.Kind == palmdb.KindMOBI {
		if pdoc.EncryptionType != EncryptionNone {
			return nil, newError(KindEncrypted, "mobi.Open", fmt.Errorf("encryption type %d", pdoc.EncryptionType))
		}

		mh, err := parseMobiHeader(rec0)
		if err != nil {
			return nil, err
		}

		book.Locale = mh.Locale
		book.TextEncoding = mh.TextEncoding
		trailersCount = mh.TrailersCount
		multibyte = mh.Multibyte
		huffFirstRec = mh.HuffmanFirstRec
		huffRecCount = mh.HuffmanRecCount

		if name, err := mh.fullName(rec0); err == nil {
			book.FullName = name
			book.Title = name
		}

		if mh.FirstImageRecord != 0 && int(mh.FirstImageRecord) < db.NumRecords() {
			firstImageRecord = int(mh.FirstImageRecord)
			imagesCount = int(mh.LastContentRecord) - firstImageRecord + 1
			if imagesCount < 0 {
				imagesCount = 0
			}
		}

		if mh.HasEXTH {
			exthOffset := palmDOCHeaderLen + int(mh.HeaderLength)
			e, err = parseEXTH(rec0, exthOffset)
			if err != nil {
				return nil, err
			}
			if e.Author != "" {
				book.Author = e.Author
			}
			if e.Publisher != "" {
				book.Publisher = e.Publisher
			}
			if e.Title != "" {
				book.Title = e.Title
			}
			if e.Language != "" {
				book.Language = e.Language
			}
		}
	}

	var huff *huffCDIC
	if pdoc.Compression == CompressionHuffCDIC {
		if huffRecCount < 1 {
			return nil, newError(KindHeaderMalformed, "mobi.Open", fmt.Errorf("huffman-compressed body with no huffman records declared"))
		}
		huffRec, err := db.ReadRecord(int(huffFirstRec))
		if err != nil {
			return nil, newError(KindIO, "mobi.Open", err)
		}
		cdicRecs := make([][]byte, 0, huffRecCount-1)
		for i := 1; i < int(huffRecCount); i++ {
			rec, err := db.ReadRecord(int(huffFirstRec) + i)
			if err != nil {
				return nil, newError(KindIO, "mobi.Open", err)
			}
			cdicRecs = append(cdicRecs, rec)
		}
		huff, err = newHuffCDIC(huffRec, cdicRecs)
		if err != nil {
			return nil, err
		}
	}

	if imagesCount > 0 {
		lastImageRecord := firstImageRecord + imagesCount - 1
		if lastImageRecord >= db.NumRecords() {
			lastImageRecord = db.NumRecords() - 1
		}
		images, err := loadImages(db, firstImageRecord, lastImageRecord)
		if err != nil {
			return nil, err
		}
		book.Images = images
	}
	if cover, ok := selectCover(book.Images, e); ok {
		book.cover, book.hasCover = cover, true
	}

	docRecCount := int(pdoc.RecordsCount)
	body := make([]byte, 0, pdoc.UncompressedDocSize)

	for i := 1; i <= docRecCount; i++ {
		raw, err := db.ReadRecord(i)
		if err != nil {
			return nil, newError(KindIO, "mobi.Open", err)
		}
		trimmed, err := stripTrailers(raw, trailersCount, multibyte)
		if err != nil {
			return nil, err
		}

		want := int(pdoc.UncompressedDocSize) - len(body)
		if want < len(trimmed)*2+64 {
			want = len(trimmed)*2 + 64
		}
		dst := make([]byte, want)

		var n int
		switch pdoc.Compression {
		case CompressionNone:
			n = copy(dst, trimmed)
		case CompressionPalmDOC:
			n, err = decompressPalmDOC(trimmed, dst)
		case CompressionHuffCDIC:
			n, err = huff.decode(trimmed, dst)
		}
		if err != nil {
			return nil, err
		}
		body = append(body, dst[:n]...)
	}
	book.Body = body

	if cfg.strictSize && uint32(len(body)) != pdoc.UncompressedDocSize {
		return nil, newError(KindSizeMismatch, "mobi.Open", fmt.Errorf("decoded body is %d bytes, header declares %d", len(body), pdoc.UncompressedDocSize))
	}

	return book, nil
}
