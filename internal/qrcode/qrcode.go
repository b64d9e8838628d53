// Package qrcode renders a QR code as terminal-printable lines, for
// tabminald's startup banner (spec.md §4.8/§9: "prints a QR code
// encoding the attach URL").
//
// Uses Unicode half-block characters for correct aspect ratio since
// terminal characters are approximately 2:1 (height:width).
package qrcode

import (
	"strings"

	"github.com/skip2/go-qrcode"
)

// GenerateLines renders data as a QR code sized to fit within
// maxWidth x maxHeight terminal cells, trying recovery levels from
// highest to lowest quality until one fits. If nothing fits, returns a
// short human-readable fallback instead of a malformed code.
func GenerateLines(data string, maxWidth, maxHeight uint16) []string {
	levels := []qrcode.RecoveryLevel{qrcode.High, qrcode.Medium, qrcode.Low}

	for _, level := range levels {
		qr, err := qrcode.New(data, level)
		if err != nil {
			continue
		}

		bitmap := qr.Bitmap()
		if len(bitmap) == 0 || len(bitmap[0]) == 0 {
			continue
		}

		size := len(bitmap)
		qrWidth := uint16(size)
		qrHeight := uint16((size + 1) / 2)
		if qrWidth > maxWidth || qrHeight > maxHeight {
			continue
		}

		lines := make([]string, 0, qrHeight)
		// Render 2 QR rows at a time using half-block characters:
		// ▀ top dark, ▄ bottom dark, █ both dark, ' ' neither.
		for rowPair := 0; rowPair < (size+1)/2; rowPair++ {
			upperY := rowPair * 2
			lowerY := rowPair*2 + 1

			var sb strings.Builder
			sb.Grow(size * 3)
			for x := 0; x < size; x++ {
				upper := bitmap[upperY][x]
				lower := false
				if lowerY < size {
					lower = bitmap[lowerY][x]
				}
				var ch rune
				switch {
				case upper && lower:
					ch = '█'
				case upper && !lower:
					ch = '▀'
				case !upper && lower:
					ch = '▄'
				default:
					ch = ' '
				}
				sb.WriteRune(ch)
			}
			lines = append(lines, sb.String())
		}
		return lines
	}

	return []string{
		"QR code too large for terminal",
		"Please resize your terminal window",
		"(need at least 60x30 characters)",
	}
}
