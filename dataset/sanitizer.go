package dataset

import (
	"html"
	"regexp"
	"sort"
	"strings"
)

// Sanitizer cleans review bodies of markup and whitespace noise before they
// are tokenized. It is safe for concurrent use.
type Sanitizer struct {
	lineBreaks      *regexp.Regexp
	spacedColons    *regexp.Regexp
	whitespaceRegex *regexp.Regexp
	mojibake        *strings.Replacer
}

func NewSanitizer() *Sanitizer {
	table := mojibakeTable()
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	// Longer sequences first, so a three byte sequence is never consumed as
	// its two byte prefix.
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, table[k])
	}
	return &Sanitizer{
		lineBreaks:      regexp.MustCompile(`(?i)<\s*br\s*/?\s*>|\\n`),
		spacedColons:    regexp.MustCompile(`[ \t]+:`),
		whitespaceRegex: regexp.MustCompile("[[:space:]]+"),
		mojibake:        strings.NewReplacer(pairs...),
	}
}

// Sanitize repairs mis-decoded characters and HTML entities, turns `<br />`
// tags and escaped `\n` into line breaks, drops `\r`, pulls colons onto the
// preceding word, and collapses whitespace within each line. Blank lines
// are removed.
func (sanitizer *Sanitizer) Sanitize(text string) string {
	text = sanitizer.mojibake.Replace(text)
	text = html.UnescapeString(text)
	text = strings.ReplaceAll(text, "\r", "")
	text = sanitizer.lineBreaks.ReplaceAllString(text, "\n")
	text = sanitizer.spacedColons.ReplaceAllString(text, ":")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = sanitizer.whitespaceRegex.ReplaceAllString(line, " ")
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
