package generation

import (
	"strings"
	"unicode"
)

// emojiTable covers the pictographic blocks models actually emit, plus the
// joiners and selectors that glue multi-rune emoji together.
var emojiTable = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200d, Hi: 0x200d, Stride: 1}, // zero width joiner
		{Lo: 0x20e3, Hi: 0x20e3, Stride: 1}, // combining keycap
		{Lo: 0x2600, Hi: 0x27bf, Stride: 1}, // misc symbols, dingbats
		{Lo: 0x2b50, Hi: 0x2b55, Stride: 1},
		{Lo: 0xfe0f, Hi: 0xfe0f, Stride: 1}, // emoji presentation selector
	},
	R32: []unicode.Range32{
		{Lo: 0x1f1e6, Hi: 0x1f1ff, Stride: 1}, // regional indicators
		{Lo: 0x1f300, Hi: 0x1f5ff, Stride: 1}, // includes skin tone modifiers
		{Lo: 0x1f600, Hi: 0x1f64f, Stride: 1},
		{Lo: 0x1f680, Hi: 0x1f6ff, Stride: 1},
		{Lo: 0x1f900, Hi: 0x1f9ff, Stride: 1},
		{Lo: 0x1fa70, Hi: 0x1faff, Stride: 1},
	},
}

// StripEmoji removes emoji code points from s. Runs of spaces left behind are
// collapsed within each line; line breaks are kept.
func StripEmoji(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.Is(emojiTable, r) {
			return -1
		}
		return r
	}, s)

	lines := strings.Split(cleaned, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
