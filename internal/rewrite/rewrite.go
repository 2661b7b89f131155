// Package rewrite applies heuristic voice and tone rules to rendered HTML.
//
// Every rule is a pure string transform. Rules run in a fixed order and later
// rules see the output of earlier ones, so overlapping matches may be
// processed twice.
package rewrite

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Rule struct {
	Name  string
	Apply func(string) string
}

// Rules is the ordered rule set used by Apply.
var Rules = []Rule{
	{Name: "second_person", Apply: SecondPerson},
	{Name: "first_person_verbs", Apply: FirstPersonVerbs},
	{Name: "strip_forbidden", Apply: StripForbidden},
	{Name: "rhetorical_question", Apply: RhetoricalQuestion},
	{Name: "conversational_aside", Apply: ConversationalAside},
	{Name: "split_long_sentences", Apply: SplitLongSentences},
	{Name: "drop_empty_paragraphs", Apply: DropEmptyParagraphs},
}

func Apply(content string) string {
	for _, r := range Rules {
		content = r.Apply(content)
	}
	return strings.TrimSpace(content)
}

var secondPersonMap = map[string]string{
	"i am":      "you are",
	"i'm":       "you are",
	"i have":    "you have",
	"i will":    "you will",
	"i can":     "you can",
	"i think":   "you might think",
	"i believe": "you might believe",
	"i feel":    "you might feel",
	"i know":    "you know",
	"i want":    "you want",
	"i need":    "you need",
	"i should":  "you should",
	"i must":    "you must",
	"i've":      "you have",
	"i'd":       "you would",
	"i'll":      "you will",
	"my":        "your",
	"mine":      "yours",
	"myself":    "yourself",
	"me":        "you",
}

var secondPersonRe = regexp.MustCompile(`(?i)\b(I am|I'm|I have|I will|I can|I think|I believe|I feel|I know|I want|I need|I should|I must|I've|I'd|I'll|my|mine|myself|me)\b`)

// SecondPerson swaps first-person phrases for second-person ones. A match that
// starts with a capital letter yields a capitalised replacement.
func SecondPerson(s string) string {
	return secondPersonRe.ReplaceAllStringFunc(s, func(match string) string {
		repl, ok := secondPersonMap[strings.ToLower(match)]
		if !ok {
			return match
		}
		if r, _ := utf8.DecodeRuneInString(match); unicode.IsUpper(r) {
			return strings.ToUpper(repl[:1]) + repl[1:]
		}
		return repl
	})
}

var firstPersonVerbRe = regexp.MustCompile(`(?i)\b(I)\s+([a-z]+)`)

var verbMap = map[string]string{
	"am": "are", "was": "were", "have": "have", "had": "had", "do": "do", "did": "did",
	"will": "will", "can": "can", "could": "could", "would": "would", "should": "should",
	"must": "must", "might": "might", "may": "may",
}

// FirstPersonVerbs catches "I <verb>" pairs the phrase map does not cover.
func FirstPersonVerbs(s string) string {
	return firstPersonVerbRe.ReplaceAllStringFunc(s, func(match string) string {
		m := firstPersonVerbRe.FindStringSubmatch(match)
		if v, ok := verbMap[strings.ToLower(m[2])]; ok {
			return "you " + v
		}
		return match
	})
}

var strippedPhrases = []string{
	"in this article",
	"this blog will discuss",
	"let's dive in",
	"furthermore",
	"moreover",
	"additionally",
	"thus",
	"in conclusion",
}

var strippedPhraseRes = func() []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(strippedPhrases))
	for i, p := range strippedPhrases {
		res[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(p) + `\b`)
	}
	return res
}()

func StripForbidden(s string) string {
	for _, re := range strippedPhraseRes {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

var (
	formalWordRe      = regexp.MustCompile(`(?i)\b(furthermore|moreover|additionally|consequently|therefore|thus|hence|accordingly)\b`)
	formalPhraseRe    = regexp.MustCompile(`(?i)\b(the research indicates|studies show|it is important to note|it should be mentioned)\b`)
	conversationalRe  = regexp.MustCompile(`(?i)\b(honestly|you know what|take a moment|let me tell you|here's the thing|believe me|trust me|the thing is)\b`)
	firstSentenceRe   = regexp.MustCompile(`^([^?]*?\.)`)
	firstTwoSentences = regexp.MustCompile(`^([^.!?]*[.!?])([^.!?]*[.!?])`)
	sentenceSplitRe   = regexp.MustCompile(`[.!?]+`)
	longSentenceRe    = regexp.MustCompile(`[^.!?]{60,}[.!?]`)
	emptyParagraphRe  = regexp.MustCompile(`<p class="mb-4">\s*</p>`)
)

func isFormal(s string) bool {
	return formalWordRe.MatchString(s) || formalPhraseRe.MatchString(s)
}

// RhetoricalQuestion adds a question after the first sentence of formal content
// that asks none, provided the opening paragraph is longer than 100 bytes.
func RhetoricalQuestion(s string) string {
	if strings.Contains(s, "?") || !isFormal(s) {
		return s
	}
	first, _, _ := strings.Cut(s, "\n\n")
	if len(first) <= 100 {
		return s
	}
	return firstSentenceRe.ReplaceAllString(s, "$1 Have you ever wondered about this?")
}

// ConversationalAside slips "You know what?" between the first two sentences of
// formal content that has no conversational markers yet.
func ConversationalAside(s string) string {
	if conversationalRe.MatchString(s) || !isFormal(s) {
		return s
	}
	if len(sentenceSplitRe.Split(s, -1)) <= 3 {
		return s
	}
	return firstTwoSentences.ReplaceAllString(s, "$1 You know what?$2")
}

// SplitLongSentences turns every comma of a 60+ character sentence into a break.
func SplitLongSentences(s string) string {
	return longSentenceRe.ReplaceAllStringFunc(s, func(sentence string) string {
		return strings.ReplaceAll(sentence, ",", ". You'll find that")
	})
}

func DropEmptyParagraphs(s string) string {
	return emptyParagraphRe.ReplaceAllString(s, "")
}
