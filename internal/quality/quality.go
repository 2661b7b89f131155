// Package quality scores generated posts against a fixed structural rubric.
package quality

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vnmchuo/blog-generator/internal/render"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Issue is a whole-document finding. Issues are data, never errors.
type Issue struct {
	Type     string   `json:"type"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Document carries both forms of a post: table and quote checks read the
// Markdown, everything else reads the final HTML. A Document without HTML is
// scored against its rendered Markdown.
type Document struct {
	Markdown string
	HTML     string
}

type Report struct {
	Score  int
	Issues []Issue
	Tables TableInfo
	Quotes QuoteInfo
}

const (
	minContentLength   = 1000
	minHeadings        = 5
	maxParagraphWords  = 40
	minBullets         = 2
	minQuotes          = 2
	shortParagraphWord = 20
)

// ForbiddenPhrases are matched case-insensitively as whole words.
var ForbiddenPhrases = []string{"furthermore", "moreover", "in conclusion", "additionally", "thus"}

var (
	forbiddenRe = regexp.MustCompile(`(?i)\b(` + strings.Join(ForbiddenPhrases, "|") + `)\b`)
	paragraphRe = regexp.MustCompile(`(?is)<p(?:\s[^>]*)?>(.*?)</p>`)
	listItemRe  = regexp.MustCompile(`(?i)<li[\s>]`)
	sentenceRe  = regexp.MustCompile(`[.!?]+`)
)

var aiDisclaimers = []string{"I apologize", "As an AI"}

var fallbackRenderer = render.New()

// Analyze runs every check once and returns the score together with the findings.
func Analyze(doc Document) Report {
	a := newAnalysis(doc)
	return Report{
		Score:  a.score(),
		Issues: a.issues(),
		Tables: a.tables,
		Quotes: a.quotes,
	}
}

func Validate(doc Document) []Issue {
	return newAnalysis(doc).issues()
}

// Score starts at 100 and applies every delta. The result is floored at 0 but
// bonuses may lift it above 100.
func Score(doc Document) int {
	return newAnalysis(doc).score()
}

type analysis struct {
	html       string
	text       string
	headings   int
	paragraphs []int // word count per paragraph
	bullets    int
	forbidden  []string
	tables     TableInfo
	quotes     QuoteInfo
	words      int
}

func newAnalysis(doc Document) *analysis {
	html := doc.HTML
	if html == "" && strings.TrimSpace(doc.Markdown) != "" {
		html = fallbackRenderer.Render(doc.Markdown)
	}
	a := &analysis{
		html:     html,
		text:     render.ExtractPlainText(html),
		headings: render.DescribeHeadings(html).Count,
		bullets:  len(listItemRe.FindAllStringIndex(html, -1)),
		tables:   ValidateTables(doc.Markdown),
		quotes:   ValidateQuotes(doc.Markdown),
		words:    countWords(doc.Markdown),
	}
	for _, m := range paragraphRe.FindAllStringSubmatch(html, -1) {
		a.paragraphs = append(a.paragraphs, len(strings.Fields(render.ExtractPlainText(m[1]))))
	}
	a.forbidden = findForbidden(a.text)
	return a
}

func (a *analysis) longParagraphs() int {
	n := 0
	for _, words := range a.paragraphs {
		if words > maxParagraphWords {
			n++
		}
	}
	return n
}

func (a *analysis) score() int {
	score := 100

	if len(a.html) < minContentLength {
		score -= 20
	}
	if a.headings < minHeadings {
		score -= 15
	}
	if a.longParagraphs() > 0 {
		score -= 10
	}
	if a.bullets < minBullets {
		score -= 10
	}
	if len(a.forbidden) > 0 {
		score -= 10
	}

	if !a.tables.HasTables {
		score -= 25
	} else {
		if a.tables.IsValidMarkdown {
			score += 5
		}
		if len(a.tables.TableTitles) > 0 {
			score += 5
		}
		if a.words > 0 && float64(a.tables.TableCount)/float64(a.words)*1000 > 2 {
			score -= 5
		}
	}

	if a.quotes.QuoteCount < minQuotes {
		score -= 20
	} else {
		if a.quotes.IsValidMarkdown {
			score += 5
		}
		if a.quotes.QuoteDensity >= 0.8 && a.quotes.QuoteDensity <= 1.2 {
			score += 5
		}
		if a.quotes.QuoteDensity > 1.5 {
			score -= 10
		}
	}

	if score < 0 {
		return 0
	}
	return score
}

func (a *analysis) issues() []Issue {
	issues := []Issue{}
	add := func(typ string, sev Severity, format string, args ...any) {
		issues = append(issues, Issue{Type: typ, Message: fmt.Sprintf(format, args...), Severity: sev})
	}

	if n := len(a.html); n < minContentLength {
		add("content_length", SeverityHigh, "Content too short: %d characters, minimum %d required", n, minContentLength)
	}
	if a.headings < minHeadings {
		add("insufficient_headings", SeverityHigh, "Insufficient headings detected: %d found, minimum %d required", a.headings, minHeadings)
	}
	if n := a.longParagraphs(); n > 0 {
		add("paragraph_length", SeverityHigh, "Extremely long paragraphs detected: %d paragraphs over %d words", n, maxParagraphWords)
	}
	if a.bullets < minBullets {
		add("insufficient_bullets", SeverityMedium, "Insufficient bullet points detected: %d found, minimum %d required", a.bullets, minBullets)
	}
	if len(a.forbidden) > 0 {
		add("forbidden_phrases", SeverityMedium, "Forbidden phrases found: %s", strings.Join(a.forbidden, ", "))
	}

	if !a.tables.HasTables {
		add("missing_table", SeverityHigh, "No comparison table found")
	} else if !a.tables.IsValidMarkdown {
		add("invalid_table", SeverityMedium, "Table rows have inconsistent column counts")
	}
	if a.quotes.QuoteCount < minQuotes {
		add("insufficient_quotes", SeverityMedium, "Insufficient blockquotes detected: %d found, minimum %d required", a.quotes.QuoteCount, minQuotes)
	}
	if a.quotes.HasQuotes && !a.quotes.IsValidMarkdown {
		add("invalid_quotes", SeverityMedium, "Blockquotes must be 1-2 sentences and never inside lists or tables")
	}

	if hasRepetition(a.text) {
		add("repetition", SeverityMedium, "Excessive repetition detected")
	}
	for _, d := range aiDisclaimers {
		if strings.Contains(a.text, d) {
			add("ai_apology", SeverityHigh, "Content contains AI apology patterns")
			break
		}
	}
	if a.poorDistribution() {
		add("poor_paragraph_distribution", SeverityMedium, "Too many very short paragraphs detected")
	}

	return issues
}

func (a *analysis) poorDistribution() bool {
	if len(a.paragraphs) == 0 {
		return false
	}
	short := 0
	for _, words := range a.paragraphs {
		if words < shortParagraphWord {
			short++
		}
	}
	return float64(short)/float64(len(a.paragraphs)) > 0.7
}

// findForbidden returns the distinct phrases present, in list order.
func findForbidden(text string) []string {
	seen := make(map[string]bool)
	for _, m := range forbiddenRe.FindAllString(text, -1) {
		seen[strings.ToLower(m)] = true
	}
	var found []string
	for _, p := range ForbiddenPhrases {
		if seen[p] {
			found = append(found, p)
		}
	}
	return found
}

// hasRepetition reports more than three distinct sentences that each occur more than twice.
func hasRepetition(text string) bool {
	counts := make(map[string]int)
	for _, s := range sentenceRe.Split(text, -1) {
		s = strings.ToLower(strings.TrimSpace(s))
		if len(s) > 10 {
			counts[s]++
		}
	}
	repeated := 0
	for _, n := range counts {
		if n > 2 {
			repeated++
		}
	}
	return repeated > 3
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

func countWords(s string) int {
	return len(strings.Fields(tagRe.ReplaceAllString(s, " ")))
}
