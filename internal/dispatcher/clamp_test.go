package dispatcher

import "testing"

func TestClampResultAnnotatesOutOfRangeValues(t *testing.T) {
	raw := rawAnalysis{
		Patterns: []RawPattern{
			{Kind: "dialectic", Span: [2]int{-5, 10}, Confidence: 1.5},
			{Kind: "themes", Span: [2]int{2, 1}, Confidence: 0.4},
		},
		Themes: []string{"trust"},
		Sentiment: &RawSentiment{
			Polarity:  -3,
			Intensity: 2,
		},
	}

	result := clampResult(raw, "m1@prompt-v1", 1.2)

	if !result.Patterns[0].Coerced {
		t.Error("expected first pattern (bad span + confidence) to be coerced")
	}
	if result.Patterns[0].Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", result.Patterns[0].Confidence)
	}
	if result.Patterns[0].Span[0] != 0 {
		t.Errorf("span[0] = %v, want clamped to 0", result.Patterns[0].Span[0])
	}

	if !result.Patterns[1].Coerced {
		t.Error("expected second pattern (span[1] < span[0]) to be coerced")
	}

	if !result.Sentiment.Coerced {
		t.Error("expected sentiment to be coerced")
	}
	if result.Sentiment.Polarity != -1 {
		t.Errorf("polarity = %v, want clamped to -1", result.Sentiment.Polarity)
	}
	if result.Sentiment.Intensity != 1 {
		t.Errorf("intensity = %v, want clamped to 1", result.Sentiment.Intensity)
	}
}

func TestClampResultLeavesValidValuesUntouched(t *testing.T) {
	raw := rawAnalysis{
		Patterns: []RawPattern{
			{Kind: "sentiment", Span: [2]int{0, 5}, Confidence: 0.8},
		},
		Sentiment: &RawSentiment{Polarity: 0.2, Intensity: 0.5},
	}

	result := clampResult(raw, "m1@prompt-v1", 0.5)

	if result.Patterns[0].Coerced {
		t.Error("valid pattern should not be marked coerced")
	}
	if result.Sentiment.Coerced {
		t.Error("valid sentiment should not be marked coerced")
	}
}

func TestParseBackendTextExtractsJSONAmidProse(t *testing.T) {
	text := "Sure, here is the analysis:\n" +
		`{"patterns":[{"kind":"dialectic","span":[0,10],"confidence":0.9,"evidence":"..."}],` +
		`"themes":["trust"],"sentiment":{"polarity":0.1,"intensity":0.4}}` +
		"\nLet me know if you need anything else."

	raw, err := parseBackendText(text)
	if err != nil {
		t.Fatalf("parseBackendText() error = %v", err)
	}
	if len(raw.Patterns) != 1 || raw.Patterns[0].Kind != "dialectic" {
		t.Errorf("patterns = %+v", raw.Patterns)
	}
	if raw.Sentiment == nil || raw.Sentiment.Polarity != 0.1 {
		t.Errorf("sentiment = %+v", raw.Sentiment)
	}
}

func TestParseBackendTextFailsOnMissingSentiment(t *testing.T) {
	text := `{"patterns":[],"themes":[]}`
	if _, err := parseBackendText(text); err == nil {
		t.Fatal("expected a parse error when sentiment is absent")
	}
}

func TestParseBackendTextFailsOnMalformedJSON(t *testing.T) {
	text := "the backend did not return JSON at all"
	if _, err := parseBackendText(text); err == nil {
		t.Fatal("expected a parse error for non-JSON text")
	}
}
