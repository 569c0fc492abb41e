// Package pipeline orchestrates one exam submission end to end: validation,
// attempt limiting, remote analysis, audio archiving and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pavelanni/oralexam/internal/analyzer"
	"github.com/pavelanni/oralexam/internal/limiter"
	"github.com/pavelanni/oralexam/internal/model"
	"github.com/pavelanni/oralexam/internal/store"
	"github.com/pavelanni/oralexam/internal/topics"
)

// ErrAttemptLimit reports that the student has no attempts left.
var ErrAttemptLimit = errors.New("attempt limit reached")

// ValidationError reports a user-correctable problem with the submission,
// found before any remote call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid submission: %s %s", e.Field, e.Reason)
}

// Outcome is the result of one pipeline run. The scoring result is always
// present when err is nil, even if persisting it failed: a grading result is
// never silently lost.
type Outcome struct {
	Record model.ExamRecord
	Result model.ScoringResult
	// Remaining attempts after this submission.
	Remaining int
	// SaveErr is non-nil when the record could not be persisted. The
	// scorecard above is still valid and must be shown to the user.
	SaveErr error
	// Prior attempts, populated when err is ErrAttemptLimit.
	Prior []model.ExamRecord
}

// Pipeline wires the submission stages together.
type Pipeline struct {
	analyzer analyzer.Analyzer
	store    store.ResultStore
	catalog  *topics.Catalog
	now      func() time.Time
}

// New creates a submission pipeline.
func New(a analyzer.Analyzer, s store.ResultStore, c *topics.Catalog) *Pipeline {
	return &Pipeline{analyzer: a, store: s, catalog: c, now: time.Now}
}

// Submit runs one exam attempt. Validation and attempt-limit failures are
// returned as errors before any remote call; after the analysis starts,
// every failure degrades into the outcome instead of aborting it.
func (p *Pipeline) Submit(ctx context.Context, req model.SubmissionRequest) (*Outcome, error) {
	plan, err := p.validate(req)
	if err != nil {
		return nil, err
	}

	records, err := p.store.ListAll(ctx)
	if err != nil && !errors.Is(err, store.ErrNoTable) {
		// Without the prior records the limit cannot be checked; refuse
		// rather than risk a third attempt.
		return nil, fmt.Errorf("read prior attempts: %w", err)
	}

	decision := limiter.Check(records, req.ClassSection, req.RollNumber)
	if !decision.Allowed {
		return &Outcome{Prior: decision.Prior}, ErrAttemptLimit
	}

	result := p.analyzer.Analyze(ctx, req.Audio, plan)

	// The audio reference must be known, even as a placeholder, before the
	// record row is written.
	audioRef, err := p.store.SaveAudio(ctx, req, req.Audio)
	if err != nil {
		slog.Error("audio archive failed", "class", req.ClassSection, "roll", req.RollNumber, "error", err)
		audioRef = model.AudioUploadFailed
	}

	rec := model.ExamRecord{
		Timestamp:      p.now(),
		StudentName:    req.StudentName,
		ClassSection:   req.ClassSection,
		RollNumber:     req.RollNumber,
		Topic:          req.Topic,
		Percent:        result.Percent,
		Rubric:         result.Rubric,
		Transcript:     result.Transcript,
		TeacherComment: result.TeacherComment,
		AudioRef:       audioRef,
	}

	out := &Outcome{
		Record:    rec,
		Result:    result,
		Remaining: decision.Remaining - 1,
	}
	if err := p.store.Append(ctx, rec); err != nil {
		slog.Error("persist exam record failed", "class", req.ClassSection, "roll", req.RollNumber, "error", err)
		out.SaveErr = err
	}
	return out, nil
}

func (p *Pipeline) validate(req model.SubmissionRequest) (model.TopicPlan, error) {
	var plan model.TopicPlan
	checks := []struct {
		field string
		value string
	}{
		{"student_name", req.StudentName},
		{"class_section", req.ClassSection},
		{"roll_number", req.RollNumber},
		{"topic", req.Topic},
	}
	for _, c := range checks {
		if strings.TrimSpace(c.value) == "" {
			return plan, &ValidationError{Field: c.field, Reason: "must not be empty"}
		}
	}
	if len(req.Audio) == 0 {
		return plan, &ValidationError{Field: "audio", Reason: "must not be empty"}
	}
	plan, ok := p.catalog.Get(req.Topic)
	if !ok {
		return plan, &ValidationError{Field: "topic", Reason: "is not in the catalog"}
	}
	return plan, nil
}
