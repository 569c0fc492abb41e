package model

import (
	"context"
	"time"
)

// AudioUploadFailed is the audio reference recorded when archiving the raw
// audio was attempted and failed. Downstream consumers must treat it as a
// valid, displayable value.
const AudioUploadFailed = "upload-failed"

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleTeacher is a teacher user role.
	UserRoleTeacher UserRole = "teacher"
	// UserRoleAdmin is an admin user role.
	UserRoleAdmin UserRole = "admin"
)

// User represents an operator account. Students do not log in; they are
// identified by the submission form.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// TopicPlan is the expected three-part outline for one exam topic.
// Immutable reference data owned by the topic catalog.
type TopicPlan struct {
	Topic        string `json:"topic"`
	Introduction string `json:"introduction"`
	Body         string `json:"body"`
	Conclusion   string `json:"conclusion"`
}

// SubmissionRequest carries one exam attempt into the pipeline.
type SubmissionRequest struct {
	StudentName  string
	ClassSection string
	RollNumber   string
	Topic        string
	Audio        []byte
}

// RubricScores holds the four 1-3 criterion ratings. Zero means
// "not evaluated" and appears only on the failure sentinel.
type RubricScores struct {
	Content      int `json:"konu_icerik"`
	Organization int `json:"duzen"`
	Language     int `json:"dil"`
	Fluency      int `json:"akicilik"`
}

// Sum returns the total of the four criterion ratings.
func (r RubricScores) Sum() int {
	return r.Content + r.Organization + r.Language + r.Fluency
}

// Valid reports whether every rating is in the 1-3 range.
func (r RubricScores) Valid() bool {
	for _, v := range []int{r.Content, r.Organization, r.Language, r.Fluency} {
		if v < 1 || v > 3 {
			return false
		}
	}
	return true
}

// ScoringResult is the outcome of one remote analysis.
type ScoringResult struct {
	Transcript     string       `json:"transcript"`
	Rubric         RubricScores `json:"kriter_puanlari"`
	Percent        int          `json:"yuzluk_sistem_puani"`
	TeacherComment string       `json:"ogretmen_yorumu"`
}

// Failed reports whether the result is the evaluation-failed sentinel.
func (r ScoringResult) Failed() bool {
	return r.Percent == 0 && r.Rubric == RubricScores{}
}

// ExamRecord is the persisted form of one exam attempt. Created exactly once
// per successful pipeline run and never mutated by the core.
type ExamRecord struct {
	ID             int64        `json:"id,omitempty"`
	Timestamp      time.Time    `json:"timestamp"`
	StudentName    string       `json:"student_name"`
	ClassSection   string       `json:"class_section"`
	RollNumber     string       `json:"roll_number"`
	Topic          string       `json:"topic"`
	Percent        int          `json:"score_percent"`
	Rubric         RubricScores `json:"rubric_breakdown"`
	Transcript     string       `json:"transcript"`
	TeacherComment string       `json:"teacher_comment"`
	AudioRef       string       `json:"audio_reference"`
}
