package worker

import "strings"

// entity replacements applied after tag stripping. Deliberately minimal: the
// text part is a fallback, not a rendering.
var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
)

// htmlToText derives the plain-text alternative of an HTML body by dropping
// tags and decoding the fixed entity set.
func htmlToText(html string) string {
	var b strings.Builder
	b.Grow(len(html))

	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	return strings.TrimSpace(entityReplacer.Replace(b.String()))
}
