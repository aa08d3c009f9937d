package dataset

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// mojibakeTable maps UTF-8 text that was decoded as Windows-1252 back to
// the characters it was meant to be. It covers Latin-1 and the printable
// Windows-1252 extras, skipping characters whose UTF-8 bytes fall on
// code points Windows-1252 leaves undefined.
func mojibakeTable() map[string]string {
	originals := make([]rune, 0, 128)
	for b := 0x80; b <= 0x9f; b++ {
		if r := charmap.Windows1252.DecodeByte(byte(b)); r != utf8.RuneError {
			originals = append(originals, r)
		}
	}
	for r := rune(0xa0); r <= 0xff; r++ {
		originals = append(originals, r)
	}

	table := make(map[string]string, len(originals))
	for _, r := range originals {
		if misread, ok := misreadAsWindows1252(r); ok {
			table[misread] = string(r)
		}
	}
	return table
}

func misreadAsWindows1252(r rune) (string, bool) {
	var encoded [utf8.UTFMax]byte
	n := utf8.EncodeRune(encoded[:], r)
	var misread strings.Builder
	for _, b := range encoded[:n] {
		decoded := charmap.Windows1252.DecodeByte(b)
		if decoded == utf8.RuneError {
			return "", false
		}
		misread.WriteRune(decoded)
	}
	return misread.String(), true
}
