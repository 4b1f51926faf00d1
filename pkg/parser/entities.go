package parser

import "strings"

// The five predefined XML entities. Nothing else is decoded; numeric
// references and HTML entities pass through verbatim.
var entityTable = map[string]string{
	"amp":  "&",
	"lt":   "<",
	"gt":   ">",
	"quot": `"`,
	"apos": "'",
}

// longest recognized reference is "&quot;"
const maxEntityLen = 6

// decodeEntities resolves predefined entity references in a single pass, so
// decoded output is never rescanned ("&amp;lt;" becomes "&lt;").
func decodeEntities(s string) string {
	amp := strings.IndexByte(s, '&')
	if amp < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	b.WriteString(s[:amp])
	for i := amp; i < len(s); {
		if s[i] != '&' {
			b.WriteByte(s[i])
			i++
			continue
		}
		end := i + maxEntityLen
		if end > len(s) {
			end = len(s)
		}
		semi := strings.IndexByte(s[i:end], ';')
		if semi > 1 {
			if rep, ok := entityTable[s[i+1:i+semi]]; ok {
				b.WriteString(rep)
				i += semi + 1
				continue
			}
		}
		b.WriteByte('&')
		i++
	}
	return b.String()
}
