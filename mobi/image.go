package mobi

import (
	"bytes"

	"github.com/bep/imagemeta"
)

// ImageFormat identifies the container format of an embedded image, as
// determined by its leading magic bytes.
type ImageFormat int

const (
	ImageUnknown ImageFormat = iota
	ImageJPEG
	ImagePNG
	ImageGIF
)

func (f ImageFormat) String() string {
	switch f {
	case ImageJPEG:
		return "jpeg"
	case ImagePNG:
		return "png"
	case ImageGIF:
		return "gif"
	default:
		return "bin"
	}
}

// Image is a single image record recovered from a MOBI container's image
// section: raw bytes plus whatever the magic bytes and, best-effort, a
// format-specific decoder could determine about it.
type Image struct {
	Data   []byte
	Format ImageFormat
	Width  int
	Height int
}

// eofMarker terminates the image record run: Kindlegen writes it as a
// sentinel record after the last real image.
var eofMarker = []byte{0xE9, 0x8E, 0x0D, 0x0A}

// nonImageSignatures are four-byte tags that mark auxiliary records
// interleaved among the image records (flow/index/source metadata, not
// images themselves), per spec.md §4.7.
var nonImageSignatures = [][]byte{
	[]byte("FLIS"), []byte("FCIS"), []byte("FDST"), []byte("DATP"),
	[]byte("SRCS"), []byte("VIDE"),
}

func isNonImageRecord(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	for _, sig := range nonImageSignatures {
		if bytes.Equal(data[:4], sig) {
			return true
		}
	}
	return false
}

// detectImageFormat classifies data by its leading magic bytes.
func detectImageFormat(data []byte) ImageFormat {
	switch {
	case len(data) >= 3 && data[0] == 0xFF && data[1] == 0xD8 && data[2] == 0xFF:
		return ImageJPEG
	case len(data) >= 8 && bytes.Equal(data[0:8], []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return ImagePNG
	case len(data) >= 6 && (bytes.Equal(data[0:6], []byte("GIF87a")) || bytes.Equal(data[0:6], []byte("GIF89a"))):
		return ImageGIF
	default:
		return ImageUnknown
	}
}

// loadImage classifies an image record and, for JPEG and PNG images,
// probes it for its pixel dimensions via imagemeta's CONFIG source. A
// probe failure is not fatal: Width and Height are simply left at 0.
func loadImage(data []byte) Image {
	img := Image{Data: data, Format: detectImageFormat(data)}

	var format imagemeta.ImageFormat
	switch img.Format {
	case ImageJPEG:
		format = imagemeta.JPEG
	case ImagePNG:
		format = imagemeta.PNG
	default:
		return img
	}

	result, err := imagemeta.Decode(imagemeta.Options{
		R:           bytes.NewReader(data),
		ImageFormat: format,
		Sources:     imagemeta.CONFIG,
	})
	if err != nil {
		return img
	}
	img.Width = result.ImageConfig.Width
	img.Height = result.ImageConfig.Height
	return img
}

// loadImages scans the image section of a MOBI container (records
// [firstImageRecord, lastContentRecord] of the underlying PalmDB, or
// until the EOF marker appears) and returns one slot per record in that
// range: a decoded Image for records recognized as images, and a zero
// Image (Data == nil) for auxiliary records (FLIS/FCIS/...), so that
// recindex still addresses the right record position, per spec.md §4.7
// "External indexing".
func loadImages(db recordReader, firstImageRecord, lastRecord int) ([]Image, error) {
	var images []Image

	for i := firstImageRecord; i <= lastRecord; i++ {
		data, err := db.ReadRecord(i)
		if err != nil {
			return nil, newError(KindContainerMalformed, "mobi.loadImages", err)
		}
		if bytes.Equal(data, eofMarker) {
			break
		}
		if isNonImageRecord(data) {
			images = append(images, Image{})
			continue
		}
		images = append(images, loadImage(data))
	}

	return images, nil
}

// recordReader is the minimal PalmDB surface loadImages needs; satisfied
// by *palmdb.DB.
type recordReader interface {
	ReadRecord(i int) ([]byte, error)
}

// selectCover picks the cover image out of images, per spec.md §4.7: the
// EXTH 201 cover-record index, relative to the first image record, if
// it points at a loaded (non-empty) slot; otherwise the larger of the
// first two loaded images, falling back to the first loaded image, or
// none if no slot ever loaded an image.
func selectCover(images []Image, e *exth) (Image, bool) {
	if e != nil && e.HasCover {
		idx := int(e.CoverRec)
		if idx >= 0 && idx < len(images) && images[idx].Data != nil {
			return images[idx], true
		}
	}

	var loaded []Image
	for _, img := range images {
		if img.Data == nil {
			continue
		}
		loaded = append(loaded, img)
		if len(loaded) == 2 {
			break
		}
	}

	switch len(loaded) {
	case 0:
		return Image{}, false
	case 1:
		return loaded[0], true
	default:
		if len(loaded[1].Data) > len(loaded[0].Data) {
			return loaded[1], true
		}
		return loaded[0], true
	}
}
