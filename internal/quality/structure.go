package quality

import (
	"regexp"
	"strings"
)

type TableInfo struct {
	HasTables       bool     `json:"hasTables"`
	TableCount      int      `json:"tableCount"`
	IsValidMarkdown bool     `json:"isValidMarkdown"`
	TableTitles     []string `json:"tableTitles"`
}

type QuoteInfo struct {
	HasQuotes       bool    `json:"hasQuotes"`
	QuoteCount      int     `json:"quoteCount"`
	IsValidMarkdown bool    `json:"isValidMarkdown"`
	QuoteDensity    float64 `json:"quoteDensity"` // quotes per 400 words
}

const minTableRows = 3

var (
	tableTitleRe = regexp.MustCompile(`^\*\*([^*]+)\*\*:?$`)
	quoteLineRe  = regexp.MustCompile(`(?m)^>[ \t]+(.+)$`)
	listQuoteRe  = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+>\s`)
)

func splitLines(markdown string) []string {
	return strings.Split(strings.ReplaceAll(markdown, "\r\n", "\n"), "\n")
}

func isPipeRow(line string) bool {
	line = strings.TrimSpace(line)
	return len(line) >= 2 && strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|")
}

func cells(row string) []string {
	var out []string
	for _, c := range strings.Split(strings.TrimSpace(row), "|") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// ValidateTables finds pipe tables: runs of at least three consecutive pipe rows.
// A table is valid when every row has the same number of non-empty cells, and it
// is titled when the closest non-blank line above it is a bold line.
func ValidateTables(markdown string) TableInfo {
	info := TableInfo{IsValidMarkdown: true, TableTitles: []string{}}
	lines := splitLines(markdown)

	for i := 0; i < len(lines); {
		if !isPipeRow(lines[i]) {
			i++
			continue
		}
		start := i
		for i < len(lines) && isPipeRow(lines[i]) {
			i++
		}
		rows := lines[start:i]
		if len(rows) < minTableRows {
			continue
		}

		info.TableCount++
		want := len(cells(rows[0]))
		for _, r := range rows[1:] {
			if len(cells(r)) != want {
				info.IsValidMarkdown = false
			}
		}
		if title, ok := titleAbove(lines, start); ok {
			info.TableTitles = append(info.TableTitles, title)
		}
	}

	info.HasTables = info.TableCount > 0
	return info
}

func titleAbove(lines []string, start int) (string, bool) {
	for j := start - 1; j >= 0; j-- {
		line := strings.TrimSpace(lines[j])
		if line == "" {
			continue
		}
		if m := tableTitleRe.FindStringSubmatch(line); m != nil {
			return strings.TrimSpace(m[1]), true
		}
		return "", false
	}
	return "", false
}

// ValidateQuotes counts top-level blockquote lines. Quotes are invalid when one
// sits inside a list item or table row, or runs past two sentences.
func ValidateQuotes(markdown string) QuoteInfo {
	info := QuoteInfo{IsValidMarkdown: true}

	matches := quoteLineRe.FindAllStringSubmatch(markdown, -1)
	info.QuoteCount = len(matches)
	info.HasQuotes = info.QuoteCount > 0

	for _, m := range matches {
		if sentenceCount(m[1]) > 2 {
			info.IsValidMarkdown = false
		}
	}

	for _, line := range splitLines(markdown) {
		trimmed := strings.TrimSpace(line)
		if listQuoteRe.MatchString(trimmed) {
			info.IsValidMarkdown = false
		}
		if isPipeRow(trimmed) {
			for _, c := range cells(trimmed) {
				if strings.HasPrefix(c, ">") {
					info.IsValidMarkdown = false
				}
			}
		}
	}

	if words := countWords(markdown); words > 0 {
		info.QuoteDensity = float64(info.QuoteCount) / float64(words) * 400
	}
	return info
}

func sentenceCount(s string) int {
	n := 0
	for _, part := range sentenceRe.Split(s, -1) {
		if strings.TrimSpace(part) != "" {
			n++
		}
	}
	return n
}
