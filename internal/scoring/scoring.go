// Package scoring turns the remote model's raw reply into a validated
// ScoringResult. Parsing is a pure pre-processing step with no network
// dependency so it can be tested against captured payloads.
package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/pavelanni/oralexam/internal/model"
)

// maxRubricPoints is the rubric total for a perfect answer: four criteria,
// three points each.
const maxRubricPoints = 12

// ParsePayload extracts the scoring JSON object from a raw model reply.
// The reply may be bare JSON or JSON wrapped in markdown code fences and
// surrounding prose; anything outside the first '{' and the last '}' is
// discarded before decoding.
func ParsePayload(raw string) (model.ScoringResult, error) {
	var result model.ScoringResult

	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end < start {
		return result, fmt.Errorf("no JSON object in payload: %q", truncate(raw, 120))
	}
	cleaned = cleaned[start : end+1]

	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return result, fmt.Errorf("decode scoring payload: %w", err)
	}
	return result, nil
}

// Normalize validates the raw result shape and derives the final percentage.
// When all four criterion ratings are in [1,3] the percentage is recomputed
// locally as round(sum/12*100) rather than trusted from the remote model;
// otherwise the remote value is kept, clamped to [0,100], and ratings are
// clamped to [0,3].
func Normalize(raw model.ScoringResult) model.ScoringResult {
	out := raw
	out.Rubric.Content = clamp(raw.Rubric.Content, 0, 3)
	out.Rubric.Organization = clamp(raw.Rubric.Organization, 0, 3)
	out.Rubric.Language = clamp(raw.Rubric.Language, 0, 3)
	out.Rubric.Fluency = clamp(raw.Rubric.Fluency, 0, 3)

	if out.Rubric.Valid() {
		out.Percent = Percent(out.Rubric)
	} else {
		out.Percent = clamp(raw.Percent, 0, 100)
	}
	return out
}

// Percent converts a full set of rubric ratings to the 0-100 scale.
func Percent(r model.RubricScores) int {
	return int(math.Round(float64(r.Sum()) / maxRubricPoints * 100))
}

// Sentinel returns the well-formed "evaluation failed" result: percentage 0,
// all ratings 0 and a comment explaining the failure.
func Sentinel(reason string) model.ScoringResult {
	if reason == "" {
		reason = "evaluation failed"
	}
	return model.ScoringResult{
		TeacherComment: "Değerlendirme yapılamadı: " + reason,
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
