package dispatcher

import "github.com/lucidarc/observatory/internal/job"

// clampResult converts a parsed backend analysis into a stored job.Result,
// clamping any out-of-range values the backend reports and annotating
// clamped entries with Coerced=true rather than rejecting the whole
// response (spec.md §4.4 step 6: malformed individual fields degrade
// gracefully instead of failing the job).
func clampResult(raw rawAnalysis, modelIdentifier string, processingSeconds float64) job.Result {
	patterns := make([]job.Pattern, 0, len(raw.Patterns))
	for _, p := range raw.Patterns {
		confidence, coercedConf := clampFloat(p.Confidence, 0, 1)
		span, coercedSpan := clampSpan(p.Span)
		patterns = append(patterns, job.Pattern{
			Kind:       p.Kind,
			Span:       span,
			Confidence: confidence,
			Evidence:   p.Evidence,
			Coerced:    coercedConf || coercedSpan,
		})
	}

	polarity, coercedPolarity := clampFloat(raw.Sentiment.Polarity, -1, 1)
	intensity, coercedIntensity := clampFloat(raw.Sentiment.Intensity, 0, 1)

	return job.Result{
		Patterns: patterns,
		Themes:   raw.Themes,
		Sentiment: job.Sentiment{
			Polarity:  polarity,
			Intensity: intensity,
			Coerced:   coercedPolarity || coercedIntensity,
		},
		ProcessingSeconds: processingSeconds,
		ModelIdentifier:   modelIdentifier,
	}
}

func clampFloat(v, min, max float64) (float64, bool) {
	if v < min {
		return min, true
	}
	if v > max {
		return max, true
	}
	return v, false
}

func clampSpan(span [2]int) ([2]int, bool) {
	coerced := false
	if span[0] < 0 {
		span[0] = 0
		coerced = true
	}
	if span[1] < span[0] {
		span[1] = span[0]
		coerced = true
	}
	return span, coerced
}
