package dispatcher

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lucidarc/observatory/internal/job"
)

// promptVersion identifies this codebase's prompt template revision. It is
// appended to the backend-reported model name to form result.model_identifier
// (spec.md §9 open question #3: "<backend-reported model>@prompt-v1").
const promptVersion = "prompt-v1"

// systemInstructions is the fixed preamble rendered ahead of the selected
// pattern types and conversation text (spec.md §4.4 step 3).
const systemInstructions = `You are the Observatory conversation analyzer. Examine the conversation
transcript below and report, as a single JSON object and nothing else:

  {"patterns": [{"kind": string, "span": [start, end], "confidence": number 0..1, "evidence": string}],
   "themes": [string],
   "sentiment": {"polarity": number -1..1, "intensity": number 0..1}}

Only report patterns of the requested kinds. "span" indexes characters into
the transcript below. Do not include any prose outside the JSON object.`

// renderPrompt builds the full backend prompt: system instructions, the
// requested pattern kinds, and the bounded conversation text (spec.md §4.4
// step 3). Truncation never happens here — oversized input is rejected at
// submission (internal/lifecycle).
func renderPrompt(conversationText string, patternTypes []job.PatternType) string {
	var b strings.Builder
	b.WriteString(systemInstructions)
	b.WriteString("\n\nRequested pattern kinds: ")
	if len(patternTypes) == 0 {
		b.WriteString("(any)")
	} else {
		kinds := make([]string, len(patternTypes))
		for i, t := range patternTypes {
			kinds[i] = string(t)
		}
		b.WriteString(strings.Join(kinds, ", "))
	}
	b.WriteString("\n\nConversation:\n")
	b.WriteString(conversationText)
	return b.String()
}

// RawPattern is a backend-reported pattern before validation/clamping.
type RawPattern struct {
	Kind       string  `json:"kind"`
	Span       [2]int  `json:"span"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
}

// RawSentiment is a backend-reported sentiment reading before clamping.
type RawSentiment struct {
	Polarity  float64 `json:"polarity"`
	Intensity float64 `json:"intensity"`
}

// rawAnalysis is the structured shape the Dispatcher parses the backend's
// opaque generate-response text into (spec.md §4.4 step 7). Sentiment is a
// pointer so its absence from the parsed text is distinguishable from a
// zero-valued reading and treated as a missing required field.
type rawAnalysis struct {
	Patterns  []RawPattern  `json:"patterns"`
	Themes    []string      `json:"themes"`
	Sentiment *RawSentiment `json:"sentiment"`
}

// parseBackendText parses a backend generate-response's free-form text into
// the structured result shape. Unknown fields are dropped silently; a
// malformed document or a missing required field both surface as a
// *ParseError, which the caller treats as a terminal, non-retried failure
// (spec.md §4.4 step 7, "Backend returning partial/unknown fields").
func parseBackendText(text string) (rawAnalysis, error) {
	body := extractJSONObject(text)
	if body == "" {
		return rawAnalysis{}, &ParseError{Cause: fmt.Errorf("no JSON object found in backend response text")}
	}

	var out rawAnalysis
	dec := json.NewDecoder(strings.NewReader(body))
	if err := dec.Decode(&out); err != nil {
		return rawAnalysis{}, &ParseError{Cause: fmt.Errorf("decoding backend analysis text: %w", err)}
	}
	if out.Sentiment == nil {
		return rawAnalysis{}, &ParseError{Cause: fmt.Errorf("backend analysis text is missing required field %q", "sentiment")}
	}
	return out, nil
}

// extractJSONObject returns the first top-level {...} object found in text,
// tolerating surrounding prose a backend may emit despite instructions not
// to. Returns "" if no balanced object is found.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
