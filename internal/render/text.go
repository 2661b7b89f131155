package render

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// inlineTags keep their text glued to the surrounding words.
var inlineTags = map[string]bool{
	"strong": true, "em": true, "b": true, "i": true, "span": true, "a": true, "small": true,
}

// ExtractPlainText strips every tag. Inline formatting tags vanish, every other
// tag becomes a word boundary, and runs of whitespace collapse to one space.
func ExtractPlainText(s string) string {
	var sb strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.TextToken:
			sb.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if !inlineTags[string(name)] {
				sb.WriteByte(' ')
			}
		default:
			sb.WriteByte(' ')
		}
	}
}

type Headings struct {
	Count  int
	Levels []int
}

func (h Headings) HasHeadings() bool {
	return h.Count > 0
}

var headingTagRe = regexp.MustCompile(`(?i)<h([1-6])[^>]*>`)

// DescribeHeadings lists the level of every opening heading tag in document order.
func DescribeHeadings(s string) Headings {
	matches := headingTagRe.FindAllStringSubmatch(s, -1)
	levels := make([]int, 0, len(matches))
	for _, m := range matches {
		level, _ := strconv.Atoi(m[1])
		levels = append(levels, level)
	}
	return Headings{Count: len(levels), Levels: levels}
}
