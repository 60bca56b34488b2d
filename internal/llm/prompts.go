package llm

import (
	"fmt"
	"strings"

	"github.com/auditkit/guideline-rag/internal/search"
)

// Mode selects the verdict answer style.
type Mode string

const (
	ModeDefault Mode = "default"
	ModeShorter Mode = "shorter"
	ModeMore    Mode = "more"
)

// TokenLimit returns the generation budget for a mode.
func (m Mode) TokenLimit() int {
	switch m {
	case ModeShorter:
		return 256
	case ModeMore:
		return 2048
	default:
		return 768
	}
}

// BuildContext formats retrieval results as numbered sources for the
// prompt. Results without snippet text are skipped.
func BuildContext(results []search.Result) string {
	var b strings.Builder
	n := 0
	for _, r := range results {
		if r.Snippet == "" {
			continue
		}
		n++
		fmt.Fprintf(&b, "Source %d (%s):\n%s\n\n", n, r.Title, r.Snippet)
	}
	return b.String()
}

// BuildVerdictPrompt assembles the auditor-facing answer prompt.
// All three modes lead with a Flag / Don't Flag / Needs Review
// verdict; they differ in how much reasoning follows it.
func BuildVerdictPrompt(query, contextText string, mode Mode) string {
	switch mode {
	case ModeShorter:
		return fmt.Sprintf(`You are the Guideline Assistant for media auditors.

CONTEXT:
%s

QUESTION: %s

Give ONLY:
1. **Verdict**: Flag / Don't Flag / Needs Review
2. **Reason**: One sentence why

**Related Questions**:
- [One relevant follow-up question]

Nothing else. Be direct.`, contextText, query)

	case ModeMore:
		return fmt.Sprintf(`You are the Guideline Assistant for media auditors who rate content according to guidelines.

CONTEXT:
%s

QUESTION: %s

Provide a COMPREHENSIVE answer:

1. **Verdict**: Flag / Don't Flag / Needs Review

2. **Explanation**: Detailed reasoning with all relevant guidelines

3. **Edge Cases**: Cover variations and exceptions
   - What if the content is partially visible?
   - What if it's in the background vs focal point?
   - Any size/prominence considerations?

4. **Examples**: Specific examples from guidelines if available

5. **References**: Cite the specific guideline sections

**Related Questions**:
- [Suggest a relevant follow-up question]
- [Suggest another related question about edge cases]
- [Suggest a question about a related guideline topic]

Use bullet points for readability. Be thorough, the auditor wants full context.`, contextText, query)

	default:
		return fmt.Sprintf(`You are the Guideline Assistant for media auditors. Your job is to give QUICK, CLEAR answers.

CONTEXT:
%s

QUESTION: %s

RESPOND IN THIS EXACT FORMAT:

**Verdict**: [Flag / Don't Flag / Needs Review]

**Why**:
- [State the specific guideline rule that applies]
- [Explain how the content violates/complies with that rule]

**Guideline Reference**: [Which guideline section]

**Related Questions**:
- [Suggest a relevant follow-up question the auditor might ask]
- [Suggest another related question about edge cases or variations]
- [Suggest a question about a related guideline topic]

RULES:
- Lead with the verdict, auditors need fast answers
- ALWAYS connect your reasoning to the specific guideline text
- Be CONFIDENT. If guidelines cover a category (e.g., "weapons"), apply it clearly
- Make the logical connection explicit: "The guideline prohibits X, and this content shows Y, therefore..."
- Only say "Needs Review" if the guidelines genuinely don't cover this category
- Keep it under 100 words unless complexity requires more
- Use bullet points, not paragraphs
- The Related Questions should be natural follow-ups an auditor would ask`, contextText, query)
	}
}

// BuildSuggestionPrompt assembles the related-questions prompt used
// for typeahead suggestions.
func BuildSuggestionPrompt(partialQuery, topic string, maxSuggestions int) string {
	return fmt.Sprintf(`You are helping quality auditors who review content against guidelines.

Given this partial search query about %s:
"%s"

Generate %d complete, related questions that an auditor might want to ask.

Rules:
- Each question should be a complete, well-formed question
- Questions should be relevant to auditing and content review
- Keep each question under 60 characters
- Questions should be distinct from each other
- Do NOT number the questions or use bullet points
- Return ONLY the questions, one per line, nothing else

Example output format:
What are the rules for alcohol imagery?
How should I handle ambiguous cases?
When should I escalate to a supervisor?`, topic, partialQuery, maxSuggestions)
}

// NoResultsAnswer is returned when retrieval produced nothing usable.
const NoResultsAnswer = "I couldn't find anything in the indexed guidelines relevant to " +
	"that question. Try rephrasing, or check whether the relevant guideline page is indexed."
