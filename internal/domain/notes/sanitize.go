package notes

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// mediaElements are dropped together with everything beneath them.
var mediaElements = map[string]bool{
	"img": true, "embed": true, "source": true, "track": true,
	"svg": true, "video": true, "audio": true, "picture": true, "object": true,
	"iframe": true, "canvas": true, "script": true, "style": true,
}

// blockElements separate their text from the surrounding text.
var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true, "dt": true, "dd": true,
	"table": true, "tr": true, "td": true, "th": true, "blockquote": true, "pre": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"section": true, "article": true, "header": true, "footer": true, "hr": true,
}

// Sanitize converts a rich-text note body into a single line of printable
// ASCII that is safe inside a single-quoted SQL literal. It is total: every
// input, including invalid UTF-8, yields a result.
//
// The body is parsed the way a browser would, so a bare "<" that does not
// open a tag stays part of the text. Only text nodes survive; <br> becomes a
// newline and then collapses, like all other whitespace, into one space.
// An unclosed media element swallows the text after it.
func Sanitize(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ToValidUTF8(s, "\uFFFD")
	s = htmlToText(s)
	s = foldAccents(s)
	s = strings.Map(printableASCII, s)
	s = strings.Join(strings.Fields(s), " ")

	return strings.ReplaceAll(s, "'", "''")
}

func htmlToText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return html.UnescapeString(s)
	}
	var b strings.Builder
	collectText(&b, doc)
	return b.String()
}

func collectText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch {
		case mediaElements[n.Data]:
			b.WriteByte(' ')
			return
		case n.Data == "br":
			b.WriteByte('\n')
			return
		case blockElements[n.Data]:
			b.WriteByte(' ')
			defer b.WriteByte(' ')
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c)
	}
}

// foldAccents strips combining marks after canonical decomposition, so "é"
// becomes "e". The transformer is built per call; transform chains are not
// safe for concurrent use.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

func printableASCII(r rune) rune {
	if r >= 0x20 && r <= 0x7E {
		return r
	}
	return ' '
}
