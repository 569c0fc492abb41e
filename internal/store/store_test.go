package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pavelanni/oralexam/internal/model"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:", t.TempDir())
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(class, roll, topic string, percent int) model.ExamRecord {
	return model.ExamRecord{
		Timestamp:      time.Now(),
		StudentName:    "Student " + roll,
		ClassSection:   class,
		RollNumber:     roll,
		Topic:          topic,
		Percent:        percent,
		Rubric:         model.RubricScores{Content: 3, Organization: 2, Language: 3, Fluency: 2},
		Transcript:     "transcript for " + topic,
		TeacherComment: "comment for " + topic,
		AudioRef:       "/audio/" + roll + ".webm",
	}
}

func TestAppendAndListRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty store returns an empty list, not an error.
	records, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty list, got %d", len(records))
	}

	want := testRecord("7/B", "12", "Nature Appreciation", 83)
	if err := s.Append(ctx, want); err != nil {
		t.Fatalf("Append: %v", err)
	}

	records, err = s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	got := records[0]
	if got.ID == 0 {
		t.Error("expected store-assigned id")
	}
	if got.StudentName != want.StudentName ||
		got.ClassSection != want.ClassSection ||
		got.RollNumber != want.RollNumber ||
		got.Topic != want.Topic ||
		got.Percent != want.Percent ||
		got.Rubric != want.Rubric ||
		got.Transcript != want.Transcript ||
		got.TeacherComment != want.TeacherComment ||
		got.AudioRef != want.AudioRef {
		t.Errorf("round-trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestListAllNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, topic := range []string{"First", "Second", "Third"} {
		rec := testRecord("7/B", "1", topic, 50)
		rec.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("Append %s: %v", topic, err)
		}
	}

	records, err := s.ListAll(ctx)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Topic != "Third" || records[2].Topic != "First" {
		t.Errorf("expected newest first, got %s, %s, %s",
			records[0].Topic, records[1].Topic, records[2].Topic)
	}
}

func TestAppendAssignsTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("5/A", "3", "T", 42)
	rec.Timestamp = time.Time{}
	if err := s.Append(ctx, rec); err != nil {
		t.Fatalf("Append: %v", err)
	}
	records, _ := s.ListAll(ctx)
	if len(records) != 1 || records[0].Timestamp.IsZero() {
		t.Error("expected a non-zero timestamp on the stored record")
	}
}

func TestRecordCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	count, err := s.RecordCount()
	if err != nil {
		t.Fatalf("RecordCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 records, got %d", count)
	}

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, testRecord("7/B", "12", "T", 50)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	count, err = s.RecordCount()
	if err != nil {
		t.Fatalf("RecordCount: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 records, got %d", count)
	}
}

func TestSaveAudio(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	req := model.SubmissionRequest{ClassSection: "7/B", RollNumber: "12"}
	audio := []byte("RIFFfakeaudio")

	path, err := s.SaveAudio(ctx, req, audio)
	if err != nil {
		t.Fatalf("SaveAudio: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved audio: %v", err)
	}
	if string(data) != string(audio) {
		t.Error("saved audio differs from input")
	}

	// The slash in the class section must not escape the audio directory.
	if !strings.HasPrefix(filepath.Base(path), "7-B_12_") {
		t.Errorf("unexpected audio file name: %s", filepath.Base(path))
	}

	// Two saves for the same student must not collide.
	path2, err := s.SaveAudio(ctx, req, audio)
	if err != nil {
		t.Fatalf("SaveAudio second: %v", err)
	}
	if path2 == path {
		t.Error("expected distinct file names for repeated saves")
	}
}

func TestSaveAudioNoDir(t *testing.T) {
	s, err := NewSQLite(":memory:", "")
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := s.SaveAudio(context.Background(), model.SubmissionRequest{}, []byte("x")); err == nil {
		t.Error("expected error when no audio directory is configured")
	}
}

func TestMissingTableIsTyped(t *testing.T) {
	s := newTestStore(t)
	// Simulate a damaged database: drop the backing table.
	if _, err := s.db.Exec(`DROP TABLE exam_records`); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	_, err := s.ListAll(context.Background())
	if !errors.Is(err, ErrNoTable) {
		t.Errorf("expected ErrNoTable, got %v", err)
	}

	err = s.Append(context.Background(), testRecord("7/B", "1", "T", 10))
	if !errors.Is(err, ErrNoTable) {
		t.Errorf("expected ErrNoTable from Append, got %v", err)
	}
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)

	count, err := s.UserCount()
	if err != nil {
		t.Fatalf("UserCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 users, got %d", count)
	}

	id, err := s.CreateUser(model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: "hash",
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	u, err := s.GetUserByUsername("admin")
	if err != nil {
		t.Fatalf("GetUserByUsername: %v", err)
	}
	if u == nil || u.ID != id || u.Role != model.UserRoleAdmin {
		t.Errorf("unexpected user: %+v", u)
	}

	missing, err := s.GetUserByUsername("nobody")
	if err != nil {
		t.Fatalf("GetUserByUsername missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for unknown username")
	}

	if err := s.ToggleUserActive(id); err != nil {
		t.Fatalf("ToggleUserActive: %v", err)
	}
	u, _ = s.GetUserByID(id)
	if u.Active {
		t.Error("expected user to be inactive after toggle")
	}
}

func TestAuthSessions(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateUser(model.User{Username: "t", PasswordHash: "h", Role: model.UserRoleTeacher, Active: true})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	token, err := s.CreateAuthSession(id)
	if err != nil {
		t.Fatalf("CreateAuthSession: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	sess, err := s.GetAuthSession(token)
	if err != nil {
		t.Fatalf("GetAuthSession: %v", err)
	}
	if sess == nil || sess.UserID != id {
		t.Errorf("unexpected session: %+v", sess)
	}

	if err := s.DeleteAuthSession(token); err != nil {
		t.Fatalf("DeleteAuthSession: %v", err)
	}
	sess, err = s.GetAuthSession(token)
	if err != nil {
		t.Fatalf("GetAuthSession after delete: %v", err)
	}
	if sess != nil {
		t.Error("expected nil session after delete")
	}
}

func TestMetadata(t *testing.T) {
	s := newTestStore(t)

	v, err := s.GetMetadata("missing")
	if err != nil {
		t.Fatalf("GetMetadata: %v", err)
	}
	if v != "" {
		t.Errorf("expected empty value, got %q", v)
	}

	if err := s.SetMetadata("k", "v1"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	if err := s.SetMetadata("k", "v2"); err != nil {
		t.Fatalf("SetMetadata update: %v", err)
	}
	v, _ = s.GetMetadata("k")
	if v != "v2" {
		t.Errorf("expected v2, got %q", v)
	}

	info := model.ExamInfo{ExamID: "2026-sozlu-1", Subject: "Turkish", Date: "2026-05-12"}
	if err := s.SetExamInfo(info); err != nil {
		t.Fatalf("SetExamInfo: %v", err)
	}
	got, err := s.GetExamInfo()
	if err != nil {
		t.Fatalf("GetExamInfo: %v", err)
	}
	if got != info {
		t.Errorf("got %+v, want %+v", got, info)
	}
}
