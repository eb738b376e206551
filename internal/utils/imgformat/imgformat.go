package imgformat

import "bytes"

// Magic-byte signatures for the formats the pipeline accepts. Declared
// types outside this set never match.
var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47}
	riffMagic = []byte("RIFF")
	webpMagic = []byte("WEBP")
	gifMagic  = []byte("GIF8")
)

// pngColorTypeOffset is the IHDR color-type byte position in a well-formed
// PNG: 8-byte signature, 8-byte chunk header, 4-byte width, 4-byte height,
// 1-byte bit depth.
const pngColorTypeOffset = 25

const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEWEBP = "image/webp"
	MIMEGIF  = "image/gif"
)

// Matches reports whether the magic bytes of data agree with the declared
// MIME type. A mismatch is an expected outcome, not an error.
func Matches(data []byte, declaredMIME string) bool {
	switch declaredMIME {
	case MIMEJPEG:
		return bytes.HasPrefix(data, jpegMagic)
	case MIMEPNG:
		return bytes.HasPrefix(data, pngMagic)
	case MIMEWEBP:
		return len(data) >= 12 &&
			bytes.Equal(data[0:4], riffMagic) &&
			bytes.Equal(data[8:12], webpMagic)
	case MIMEGIF:
		return bytes.HasPrefix(data, gifMagic)
	default:
		return false
	}
}

// HasAlphaChannel reports whether data is a PNG whose IHDR color type
// carries an alpha channel (4 grayscale+alpha, 6 RGBA). Always false for
// non-PNG data or a buffer too short to hold the IHDR.
func HasAlphaChannel(data []byte) bool {
	if len(data) <= pngColorTypeOffset {
		return false
	}
	if !bytes.HasPrefix(data, pngMagic) {
		return false
	}
	colorType := data[pngColorTypeOffset]
	return colorType == 4 || colorType == 6
}

// ExtensionForMIME maps a supported MIME type to its storage extension.
// Unknown types map to "bin".
func ExtensionForMIME(mime string) string {
	switch mime {
	case MIMEJPEG:
		return "jpg"
	case MIMEPNG:
		return "png"
	case MIMEWEBP:
		return "webp"
	case MIMEGIF:
		return "gif"
	default:
		return "bin"
	}
}
