package console

import (
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

// RenderQR converts content to a compact text QR code using Unicode
// half-block characters. Two bitmap rows become one terminal line.
func RenderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Low)
	if err != nil {
		return "  (QR generation failed: " + err.Error() + ")"
	}
	bitmap := qr.Bitmap()
	rows := len(bitmap)
	cols := 0
	if rows > 0 {
		cols = len(bitmap[0])
	}

	var sb strings.Builder
	for y := 0; y < rows; y += 2 {
		sb.WriteString("  ")
		for x := 0; x < cols; x++ {
			top := bitmap[y][x] // true = black module
			bot := y+1 < rows && bitmap[y+1][x]
			switch {
			case top && bot:
				sb.WriteRune('█')
			case top:
				sb.WriteRune('▀')
			case bot:
				sb.WriteRune('▄')
			default:
				sb.WriteRune(' ')
			}
		}
		sb.WriteRune('\n')
	}
	return sb.String()
}

// WriteQRPNG writes content as a PNG QR code of size pixels to path.
func WriteQRPNG(content, path string, size int) error {
	return qrcode.WriteFile(content, qrcode.Medium, size, path)
}
