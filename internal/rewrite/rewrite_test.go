package rewrite

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecondPerson(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"I am ready.", "You are ready."},
		{"I'm sure my plan works.", "You are sure your plan works."},
		{"I think it helps me.", "You might think it helps you."},
		{"My advice: trust myself.", "Your advice: trust yourself."},
		{"That one is mine.", "That one is yours."},
		{"i'll go", "you will go"},
		{"Remember the meme.", "Remember the meme."},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SecondPerson(tt.in))
		})
	}
}

func TestFirstPersonVerbs(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Yesterday I was late.", "Yesterday you were late."},
		{"I could try.", "you could try."},
		{"I went home.", "I went home."},
		{"Wi-Fi am", "Wi-Fi am"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstPersonVerbs(tt.in))
		})
	}
}

func TestStripForbidden(t *testing.T) {
	got := StripForbidden("In this article we look. Furthermore, it works. Let's dive in! THUS done. thusly stays.")

	assert.Equal(t, " we look. , it works. !  done. thusly stays.", got)
}

const formalOpening = "<p class=\"mb-4\">Studies show that remote teams ship faster than colocated ones. Teams that write things down avoid repeated meetings.</p>"

func TestRhetoricalQuestion(t *testing.T) {
	got := RhetoricalQuestion(formalOpening)
	assert.Contains(t, got, "colocated ones. Have you ever wondered about this? Teams")

	withQuestion := formalOpening + "<p>Why?</p>"
	assert.Equal(t, withQuestion, RhetoricalQuestion(withQuestion))

	informal := "<p class=\"mb-4\">Remote teams ship faster than colocated ones and nobody really knows why that is the case today.</p>"
	assert.Equal(t, informal, RhetoricalQuestion(informal))

	short := "<p>Studies show it works.</p>"
	assert.Equal(t, short, RhetoricalQuestion(short))
}

func TestConversationalAside(t *testing.T) {
	in := "Therefore we start. Then we plan. Then we ship. Then we rest."
	assert.Equal(t, "Therefore we start. You know what? Then we plan. Then we ship. Then we rest.", ConversationalAside(in))

	already := "Therefore we start. Honestly, we plan. Then we ship. Then we rest."
	assert.Equal(t, already, ConversationalAside(already))

	tooShort := "Therefore we start. Then we plan."
	assert.Equal(t, tooShort, ConversationalAside(tooShort))

	informal := "We start. Then we plan. Then we ship. Then we rest."
	assert.Equal(t, informal, ConversationalAside(informal))
}

func TestSplitLongSentences(t *testing.T) {
	in := "Short, sweet. When you plan your week on Sunday, you protect the hours that matter most."

	got := SplitLongSentences(in)

	assert.Equal(t, "Short, sweet. When you plan your week on Sunday. You'll find that you protect the hours that matter most.", got)
}

func TestDropEmptyParagraphs(t *testing.T) {
	got := DropEmptyParagraphs(`<p class="mb-4"></p><p class="mb-4">  </p><p class="mb-4">kept</p>`)

	assert.Equal(t, `<p class="mb-4">kept</p>`, got)
}

func TestApply_OrderAndTrim(t *testing.T) {
	in := `  <p class="mb-4">In conclusion</p><p class="mb-4">I am happy.</p>  `

	got := Apply(in)

	assert.Equal(t, `<p class="mb-4">You are happy.</p>`, got)
}

func TestApply_RuleOrder(t *testing.T) {
	names := make([]string, len(Rules))
	for i, r := range Rules {
		names[i] = r.Name
	}

	assert.Equal(t, []string{
		"second_person",
		"first_person_verbs",
		"strip_forbidden",
		"rhetorical_question",
		"conversational_aside",
		"split_long_sentences",
		"drop_empty_paragraphs",
	}, names)
}

func TestApply_Deterministic(t *testing.T) {
	in := strings.Repeat(formalOpening, 3)
	assert.Equal(t, Apply(in), Apply(in))
}
