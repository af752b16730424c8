// sniff.go — animated-raster detection.
//
// Animated GIF/APNG/WebP can't be protected by stamping a single frame: the
// remaining frames would ship clean. The gateway routes anything animated
// through the video watermark path instead. Detection reads each format's
// native animation marker, never the file extension.
package watermark

import (
	"bytes"
	"encoding/binary"
)

var (
	gifMagic  = []byte("GIF8")
	pngMagic  = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	riffMagic = []byte("RIFF")
)

// IsAnimated reports whether data is an animated raster image.
func IsAnimated(data []byte) bool {
	switch {
	case bytes.HasPrefix(data, gifMagic):
		return gifFrameCount(data) > 1
	case bytes.HasPrefix(data, pngMagic):
		return apngHasAnimationControl(data)
	case bytes.HasPrefix(data, riffMagic) && len(data) >= 16 && bytes.Equal(data[8:12], []byte("WEBP")):
		return webpHasAnimation(data)
	}
	return false
}

// webpHasAnimation walks the top-level RIFF chunks. Animated WebP carries a
// VP8X chunk with the animation flag set and a mandatory ANIM chunk; matching
// the fourcc at chunk boundaries keeps compressed bitstream bytes that happen
// to spell "ANIM" from counting.
func webpHasAnimation(data []byte) bool {
	pos := 12
	for pos+8 <= len(data) {
		fourcc := string(data[pos : pos+4])
		length := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		switch fourcc {
		case "VP8X":
			return pos+8 < len(data) && data[pos+8]&0x02 != 0
		case "ANIM":
			return true
		}
		pos += 8 + int(length)
		if length%2 != 0 { // chunks are padded to even size
			pos++
		}
	}
	return false
}

// gifFrameCount counts image descriptor blocks (0x2C introducers) by walking
// the GIF block structure. Walking beats gif.DecodeAll here: frames are
// counted without decoding pixel data.
func gifFrameCount(data []byte) int {
	// Header (6) + logical screen descriptor (7).
	if len(data) < 13 {
		return 0
	}
	pos := 13
	// Skip the global color table if present.
	packed := data[10]
	if packed&0x80 != 0 {
		pos += 3 * (2 << (packed & 0x07))
	}

	frames := 0
	for pos < len(data) {
		switch data[pos] {
		case 0x2C: // image descriptor
			frames++
			if frames > 1 {
				return frames
			}
			if pos+10 > len(data) {
				return frames
			}
			if data[pos+9]&0x80 != 0 { // local color table
				pos += 3 * (2 << (data[pos+9] & 0x07))
			}
			pos += 10
			if pos >= len(data) {
				return frames
			}
			pos++ // LZW minimum code size
			pos = skipSubBlocks(data, pos)
		case 0x21: // extension
			pos += 2
			pos = skipSubBlocks(data, pos)
		case 0x3B: // trailer
			return frames
		default:
			return frames
		}
	}
	return frames
}

// skipSubBlocks advances past a GIF sub-block chain to the byte after its
// terminator.
func skipSubBlocks(data []byte, pos int) int {
	for pos < len(data) {
		size := int(data[pos])
		pos++
		if size == 0 {
			return pos
		}
		pos += size
	}
	return pos
}

// apngHasAnimationControl walks PNG chunks looking for acTL before IDAT.
// The APNG spec requires acTL to precede the first IDAT chunk.
func apngHasAnimationControl(data []byte) bool {
	pos := len(pngMagic)
	for pos+8 <= len(data) {
		length := binary.BigEndian.Uint32(data[pos : pos+4])
		ctype := string(data[pos+4 : pos+8])
		switch ctype {
		case "acTL":
			return true
		case "IDAT", "IEND":
			return false
		}
		pos += 8 + int(length) + 4 // header + data + CRC
	}
	return false
}
