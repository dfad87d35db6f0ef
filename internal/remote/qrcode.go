package remote

import (
	"strings"

	"github.com/skip2/go-qrcode"
)

// terminalBitmap renders data as a QR code and returns its module bitmap
// (true = dark module) alongside its square size, trying recovery levels
// from highest to lowest quality until one fits within maxWidth/maxHeight.
func terminalBitmap(data string, maxWidth, maxHeight uint16) ([][]bool, int) {
	for _, level := range []qrcode.RecoveryLevel{qrcode.High, qrcode.Medium, qrcode.Low} {
		qr, err := qrcode.New(data, level)
		if err != nil {
			continue
		}
		bitmap := qr.Bitmap()
		if len(bitmap) == 0 || len(bitmap[0]) == 0 {
			continue
		}
		size := len(bitmap)
		width, height := uint16(size), uint16((size+1)/2)
		if width <= maxWidth && height <= maxHeight {
			return bitmap, size
		}
	}
	return nil, 0
}

// QRLines renders data as a QR code for terminal display, using Unicode
// half-block characters (▀▄█) to pack two QR rows per terminal row, since
// terminal characters are roughly 2:1 (height:width). Set invert for a
// light-on-dark terminal theme. Returns a placeholder message if the code
// can't fit within maxWidth x maxHeight.
func QRLines(data string, maxWidth, maxHeight uint16, invert bool) []string {
	bitmap, size := terminalBitmap(data, maxWidth, maxHeight)
	if bitmap == nil {
		return []string{
			"QR code too large for terminal",
			"please resize your terminal window",
			"(need at least 60x30 characters)",
		}
	}

	dark := func(y, x int) bool {
		if y >= size {
			return false
		}
		v := bitmap[y][x]
		if invert {
			return !v
		}
		return v
	}

	lines := make([]string, 0, (size+1)/2)
	for rowPair := 0; rowPair < (size+1)/2; rowPair++ {
		upperY, lowerY := rowPair*2, rowPair*2+1
		var sb strings.Builder
		sb.Grow(size * 3)
		for x := 0; x < size; x++ {
			upper, lower := dark(upperY, x), dark(lowerY, x)
			switch {
			case upper && lower:
				sb.WriteRune('█')
			case upper && !lower:
				sb.WriteRune('▀')
			case !upper && lower:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		lines = append(lines, sb.String())
	}
	return lines
}

// QRDimensions returns the terminal column/row footprint a QR code for data
// would need at medium recovery, or (0, 0) if encoding fails.
func QRDimensions(data string) (uint16, uint16) {
	qr, err := qrcode.New(data, qrcode.Medium)
	if err != nil {
		return 0, 0
	}
	bitmap := qr.Bitmap()
	if len(bitmap) == 0 {
		return 0, 0
	}
	size := len(bitmap)
	return uint16(size), uint16((size + 1) / 2)
}
