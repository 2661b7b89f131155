// Package prompt builds the system and user messages sent to the model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/vnmchuo/blog-generator/internal/provider"
)

type Tone string

const (
	ToneConversational Tone = "conversational"
	ToneProfessional   Tone = "professional"
	ToneCasual         Tone = "casual"
)

type Length string

const (
	LengthShort  Length = "short"
	LengthMedium Length = "medium"
	LengthLong   Length = "long"
)

type Intensity string

const (
	IntensitySubtle   Intensity = "subtle"
	IntensityModerate Intensity = "moderate"
	IntensityStrong   Intensity = "strong"
)

type Options struct {
	Tone            Tone   `json:"tone,omitempty"`
	Length          Length `json:"length,omitempty"`
	IncludeExamples bool   `json:"includeExamples,omitempty"`
	TargetAudience  string `json:"targetAudience,omitempty"`
}

type Emphasis struct {
	Enabled   bool      `json:"enabled"`
	Intensity Intensity `json:"intensity,omitempty"`
}

// SimpleSystemPrompt replaces the full prompt when the debug switch is on.
const SimpleSystemPrompt = "You are Kimi, an AI assistant provided by Moonshot AI. You are proficient in Chinese and English conversations. You provide users with safe, helpful, and accurate answers. You will reject any requests involving terrorism, racism, or explicit content. Moonshot AI is a proper noun and should not be translated."

// ForbiddenPhrases are the transitions the model is told to avoid.
var ForbiddenPhrases = []string{"in this article", "let's dive in", "furthermore", "moreover", "in conclusion", "additionally", "thus"}

var toneDirectives = map[Tone]string{
	ToneConversational: "Write like you're talking to a friend over coffee. Friendly, approachable, and engaging.",
	ToneProfessional:   "Write like an industry expert sharing insights. Authoritative but accessible.",
	ToneCasual:         "Write like a relaxed conversation. Very informal, light, and easy to read.",
}

var boldDirectives = map[Intensity]string{
	IntensitySubtle:   "Use bold sparingly: at most 1 bold phrase per section.",
	IntensityModerate: "Use bold moderately: 2-3 bold phrases per section.",
	IntensityStrong:   "Use bold prominently: 3-4 bold phrases per section for emphasis.",
}

type lengthBand struct {
	words    string
	sections string
}

var lengthBands = map[Length]lengthBand{
	LengthShort:  {words: "800-1200", sections: "3-5"},
	LengthMedium: {words: "1500-2000", sections: "5-7"},
	LengthLong:   {words: "2500-3000", sections: "7-9"},
}

const tableRules = `**Tables** - Include exactly ONE helpful comparison table
   - 2-5 columns, 3-8 rows maximum
   - Short, scannable text only
   - Add a descriptive bold title on its own line right before the table, like: **Key Differences**
   - Use proper Markdown table syntax`

const quoteRules = `**Blockquotes** - Add at least TWO short, impactful quotes
   - Use Markdown: > short, powerful insight
   - Quotes should be 1-2 sentences maximum
   - Never place quotes inside lists or tables`

const boldRulesFormat = `**Bold Text** - %s
   - Bold only meaningful insights and key takeaways
   - Bold phrases should be 3-8 words maximum
   - Use **double asterisks** only for bold formatting`

// Builder is pure: the same inputs always produce the same prompts.
type Builder struct {
	// Simple short-circuits to SimpleSystemPrompt. Diagnostics only.
	Simple bool
}

func (b Builder) SystemPrompt(opts *Options, emphasis *Emphasis) string {
	if b.Simple {
		return SimpleSystemPrompt
	}

	o := normalizeOptions(opts)
	band := lengthBands[o.Length]

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are Kimi, an expert blog writer specializing in creating content that perfectly matches the given title. Write in clean Markdown with a %s tone.\n", o.Tone)
	fmt.Fprintf(&sb, "Never use phrases like %s.\n\n", quoteList(ForbiddenPhrases))

	sb.WriteString(`TITLE-FOCUSED WRITING (CRITICAL)
- The blog content MUST directly address and expand upon the given title
- Every section should relate back to the main title topic
- Use the exact title or variations of it naturally throughout the content
- Ensure the blog delivers on the promise made by the title

WRITING STYLE
- Use short paragraphs (max 40 words)
- Use second-person ("you", "your") consistently
- Write like a human expert: clear, helpful, authentic
- Mix long and short sentences for natural flow
- Add rhetorical questions to engage readers

`)

	sb.WriteString("STRUCTURE REQUIREMENTS\n")
	fmt.Fprintf(&sb, "- Compelling title (H1) - %s main sections (H2)\n", band.sections)
	sb.WriteString("- H3 subheadings when appropriate\n")
	if o.IncludeExamples {
		sb.WriteString("- 1-2 concrete, real-world examples for every major point\n")
	}
	sb.WriteString("- Strong, actionable conclusion\n\n")

	sb.WriteString("FORMATTING RULES (VERY IMPORTANT)\n")
	rules := []string{tableRules, quoteRules}
	if emphasis == nil || emphasis.Enabled {
		rules = append([]string{fmt.Sprintf(boldRulesFormat, boldDirectives[intensityOf(emphasis)])}, rules...)
	}
	for i, r := range rules {
		fmt.Fprintf(&sb, "%d) %s\n\n", i+1, r)
	}

	sb.WriteString(`CONTENT QUALITY STANDARDS
- Provide practical, actionable advice
- Use real-world examples and comparisons
- Include checklists and step-by-step guidance
- Avoid generic motivation and fluff
- Be specific and detailed without overexplaining

`)

	sb.WriteString("TONE AND VOICE\n")
	sb.WriteString(toneDirectives[o.Tone])
	sb.WriteString("\n\n")

	sb.WriteString("TECHNICAL REQUIREMENTS\n")
	fmt.Fprintf(&sb, "- Write approximately %s words\n", band.words)
	fmt.Fprintf(&sb, "- Target audience: %s\n", o.TargetAudience)
	sb.WriteString("- Focus on clarity and readability\n")
	sb.WriteString("- Ensure all content directly supports the title promise")

	return sb.String()
}

func (b Builder) UserPrompt(topic string) string {
	return fmt.Sprintf(`Create a comprehensive, engaging blog article that fully delivers on the title "%s".

Requirements:
- The content must directly address the title's promise
- Provide real, actionable value that readers can apply immediately
- Structure the article to flow logically from introduction to conclusion
- Include specific examples, practical tips, and clear takeaways
- Ensure every section relates to and supports the main title topic
- Write content that makes readers feel they've gained valuable insights

Focus on creating content that readers will find genuinely useful and worth sharing.`, strings.TrimSpace(topic))
}

// Messages returns exactly one system message followed by one user message.
func (b Builder) Messages(topic string, opts *Options, emphasis *Emphasis) []provider.Message {
	return []provider.Message{
		{Role: provider.RoleSystem, Content: b.SystemPrompt(opts, emphasis)},
		{Role: provider.RoleUser, Content: b.UserPrompt(topic)},
	}
}

func normalizeOptions(opts *Options) Options {
	var o Options
	if opts != nil {
		o = *opts
	}
	if _, ok := toneDirectives[o.Tone]; !ok {
		o.Tone = ToneConversational
	}
	if _, ok := lengthBands[o.Length]; !ok {
		o.Length = LengthMedium
	}
	o.TargetAudience = strings.TrimSpace(o.TargetAudience)
	if o.TargetAudience == "" {
		o.TargetAudience = "general readers"
	}
	return o
}

func intensityOf(emphasis *Emphasis) Intensity {
	if emphasis == nil {
		return IntensityModerate
	}
	if _, ok := boldDirectives[emphasis.Intensity]; !ok {
		return IntensityModerate
	}
	return emphasis.Intensity
}

func quoteList(phrases []string) string {
	quoted := make([]string, len(phrases))
	for i, p := range phrases {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	return strings.Join(quoted, ", ")
}
