// Package render turns model Markdown into styled HTML.
package render

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	goldhtml "github.com/yuin/goldmark/renderer/html"
)

// Converter is the Markdown to HTML step. goldmark.Markdown satisfies it.
type Converter interface {
	Convert(source []byte, writer io.Writer, opts ...parser.ParseOption) error
}

const (
	paragraphClass  = "mb-4"
	ulClass         = "list-disc mb-4 ml-6"
	olClass         = "list-decimal mb-4 ml-6"
	liClass         = "ml-4 mb-1"
	tableWrapClass  = "overflow-x-auto mb-6"
	tableClass      = "w-full border-collapse border border-gray-300"
	thClass         = "border border-gray-300 px-4 py-3 text-left font-semibold text-gray-900"
	tdClass         = "border border-gray-300 px-4 py-3 text-gray-700"
	blockquoteClass = "border-l-4 border-blue-500 pl-4 py-2 my-4 bg-blue-50 italic text-gray-700"
)

// HeadingClass returns the classes for a heading level; weight decreases as the level grows.
func HeadingClass(level int) string {
	const base = "font-bold"
	switch level {
	case 1:
		return base + " text-2xl mb-4 mt-6"
	case 2:
		return base + " text-xl mb-3 mt-5"
	case 3:
		return base + " text-lg mb-2 mt-4"
	case 4:
		return base + " text-base mb-2 mt-3"
	case 5, 6:
		return base + " text-sm mb-2 mt-3"
	default:
		return base + " text-lg mb-2 mt-4"
	}
}

var (
	headingOpenRe    = regexp.MustCompile(`<h([1-6])(\s[^>]*)?>`)
	paragraphOpenRe  = regexp.MustCompile(`<p(\s[^>]*)?>`)
	ulOpenRe         = regexp.MustCompile(`<ul(\s[^>]*)?>`)
	olOpenRe         = regexp.MustCompile(`<ol(\s[^>]*)?>`)
	liOpenRe         = regexp.MustCompile(`<li(\s[^>]*)?>`)
	tableOpenRe      = regexp.MustCompile(`<table(\s[^>]*)?>`)
	thOpenRe         = regexp.MustCompile(`<th(\s[^>]*)?>`)
	tdOpenRe         = regexp.MustCompile(`<td(\s[^>]*)?>`)
	blockquoteOpenRe = regexp.MustCompile(`<blockquote(\s[^>]*)?>`)
	blockCloseRe     = regexp.MustCompile(`</(h[1-6]|ul|ol|p|div)>`)
	extraNewlinesRe  = regexp.MustCompile(`\n{3,}`)
)

type Renderer struct {
	md Converter
}

// New returns a Renderer using GitHub flavored Markdown with line breaks rendered as <br>.
func New() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(goldhtml.WithHardWraps()),
	)
	return NewWithConverter(md)
}

func NewWithConverter(c Converter) *Renderer {
	return &Renderer{md: c}
}

// Render never fails: if conversion errors or panics, the fallback converter is used.
func (r *Renderer) Render(markdown string) string {
	converted, err := r.convert(markdown)
	if err != nil {
		log.Warn().Err(err).Msg("markdown conversion failed, using fallback renderer")
		return Fallback(markdown)
	}
	return decorate(converted)
}

func (r *Renderer) convert(markdown string) (out string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("markdown converter panicked: %v", p)
		}
	}()

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func decorate(s string) string {
	s = headingOpenRe.ReplaceAllStringFunc(s, func(tag string) string {
		m := headingOpenRe.FindStringSubmatch(tag)
		level := int(m[1][0] - '0')
		return fmt.Sprintf(`<h%d class="%s"%s>`, level, HeadingClass(level), m[2])
	})
	s = paragraphOpenRe.ReplaceAllString(s, `<p class="`+paragraphClass+`"$1>`)
	s = ulOpenRe.ReplaceAllString(s, `<ul class="`+ulClass+`"$1>`)
	s = olOpenRe.ReplaceAllString(s, `<ol class="`+olClass+`"$1>`)
	s = liOpenRe.ReplaceAllString(s, `<li class="`+liClass+`"$1>`)
	s = tableOpenRe.ReplaceAllString(s, `<div class="`+tableWrapClass+`"><table class="`+tableClass+`"$1>`)
	s = strings.ReplaceAll(s, "</table>", "</table></div>")
	s = thOpenRe.ReplaceAllString(s, `<th class="`+thClass+`"$1>`)
	s = tdOpenRe.ReplaceAllString(s, `<td class="`+tdClass+`"$1>`)
	s = blockquoteOpenRe.ReplaceAllString(s, `<blockquote class="`+blockquoteClass+`"$1>`)
	return normalizeWhitespace(s)
}

func normalizeWhitespace(s string) string {
	s = blockCloseRe.ReplaceAllString(s, "</$1>\n")
	s = extraNewlinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

var (
	fallbackHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	fallbackBoldRe    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	fallbackItalicRe  = regexp.MustCompile(`\*(.+?)\*`)
	blankLineRe       = regexp.MustCompile(`\n\s*\n`)
)

// Fallback handles headings, bold, italics and paragraphs only. It cannot fail.
func Fallback(markdown string) string {
	text := strings.TrimSpace(strings.ReplaceAll(markdown, "\r\n", "\n"))
	if text == "" {
		return ""
	}

	var blocks []string
	for _, block := range blankLineRe.Split(text, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		var para []string
		flush := func() {
			if len(para) > 0 {
				blocks = append(blocks, fmt.Sprintf(`<p class="%s">%s</p>`, paragraphClass, strings.Join(para, "<br>\n")))
				para = nil
			}
		}
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			if m := fallbackHeadingRe.FindStringSubmatch(line); m != nil {
				flush()
				level := len(m[1])
				blocks = append(blocks, fmt.Sprintf(`<h%d class="%s">%s</h%d>`, level, HeadingClass(level), inline(m[2]), level))
				continue
			}
			para = append(para, inline(line))
		}
		flush()
	}

	return normalizeWhitespace(strings.Join(blocks, "\n"))
}

func inline(s string) string {
	s = html.EscapeString(s)
	s = fallbackBoldRe.ReplaceAllString(s, "<strong>$1</strong>")
	s = fallbackItalicRe.ReplaceAllString(s, "<em>$1</em>")
	return s
}
