// Package limiter enforces the per-student attempt cap. Counting is a pure
// filter over the full record list; the store is never consulted directly.
package limiter

import (
	"strings"

	"github.com/pavelanni/oralexam/internal/model"
)

// MaxAttempts is the fixed policy: two completed submissions per student,
// across all topics.
const MaxAttempts = 2

// Decision is the limiter's verdict for one submission attempt.
type Decision struct {
	Allowed   bool
	Used      int
	Remaining int
	// Prior holds the student's earlier attempts (timestamp, topic, score)
	// for the operator when the submission is blocked.
	Prior []model.ExamRecord
}

// AttemptsUsed counts records matching (class, roll) after normalization.
// Identifiers may arrive as text or numeric, so both sides are trimmed and
// case-folded before comparison.
func AttemptsUsed(records []model.ExamRecord, classSection, rollNumber string) int {
	count := 0
	for _, rec := range records {
		if matches(rec, classSection, rollNumber) {
			count++
		}
	}
	return count
}

// Check decides whether a new submission from (class, roll) is allowed.
// The check is advisory: it reads previously persisted records and is not
// atomic with the eventual append, so two near-simultaneous submissions can
// both pass. Acceptable at this system's scale.
func Check(records []model.ExamRecord, classSection, rollNumber string) Decision {
	var prior []model.ExamRecord
	for _, rec := range records {
		if matches(rec, classSection, rollNumber) {
			prior = append(prior, rec)
		}
	}
	used := len(prior)
	d := Decision{Used: used, Prior: prior}
	if used >= MaxAttempts {
		return d
	}
	d.Allowed = true
	d.Remaining = MaxAttempts - used
	return d
}

func matches(rec model.ExamRecord, classSection, rollNumber string) bool {
	return normalize(rec.ClassSection) == normalize(classSection) &&
		normalize(rec.RollNumber) == normalize(rollNumber)
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
