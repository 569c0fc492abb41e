package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pavelanni/oralexam/internal/model"

	_ "modernc.org/sqlite"
)

// SQLite is the local backend: exam records in a SQLite table, raw audio in
// a directory next to it. It also owns the operator accounts and auth
// sessions regardless of which record backend is active.
type SQLite struct {
	db       *sql.DB
	audioDir string
}

// NewSQLite opens the database and prepares the audio directory.
func NewSQLite(dbPath, audioDir string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if audioDir != "" {
		if err := os.MkdirAll(audioDir, 0o755); err != nil {
			return nil, fmt.Errorf("create audio dir: %w", err)
		}
	}
	s := &SQLite{db: db, audioDir: audioDir}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exam_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		student_name TEXT NOT NULL,
		class_section TEXT NOT NULL,
		roll_number TEXT NOT NULL,
		topic TEXT NOT NULL,
		score_percent INTEGER NOT NULL DEFAULT 0,
		rubric_breakdown TEXT NOT NULL DEFAULT '{}',
		transcript TEXT NOT NULL DEFAULT '',
		teacher_comment TEXT NOT NULL DEFAULT '',
		audio_reference TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_exam_records_student
		ON exam_records (class_section, roll_number);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'teacher',
		active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append stores one exam record. The rubric breakdown is kept as JSON text
// so the table row matches the flat export column set.
func (s *SQLite) Append(ctx context.Context, rec model.ExamRecord) error {
	rubric, err := json.Marshal(rec.Rubric)
	if err != nil {
		return fmt.Errorf("marshal rubric: %w", err)
	}
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO exam_records
		 (timestamp, student_name, class_section, roll_number, topic,
		  score_percent, rubric_breakdown, transcript, teacher_comment, audio_reference)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts, rec.StudentName, rec.ClassSection, rec.RollNumber, rec.Topic,
		rec.Percent, string(rubric), rec.Transcript, rec.TeacherComment, rec.AudioRef,
	)
	if err != nil {
		if isMissingTable(err) {
			return fmt.Errorf("%w: %v", ErrNoTable, err)
		}
		return fmt.Errorf("insert exam record: %w", err)
	}
	return nil
}

// ListAll returns all exam records, most recent first.
func (s *SQLite) ListAll(ctx context.Context) ([]model.ExamRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, student_name, class_section, roll_number, topic,
		        score_percent, rubric_breakdown, transcript, teacher_comment, audio_reference
		 FROM exam_records ORDER BY timestamp DESC, id DESC`)
	if err != nil {
		if isMissingTable(err) {
			return nil, fmt.Errorf("%w: %v", ErrNoTable, err)
		}
		return nil, err
	}
	defer rows.Close()

	var records []model.ExamRecord
	for rows.Next() {
		var rec model.ExamRecord
		var rubric string
		if err := rows.Scan(&rec.ID, &rec.Timestamp, &rec.StudentName, &rec.ClassSection,
			&rec.RollNumber, &rec.Topic, &rec.Percent, &rubric,
			&rec.Transcript, &rec.TeacherComment, &rec.AudioRef); err != nil {
			return nil, err
		}
		if rubric != "" {
			if err := json.Unmarshal([]byte(rubric), &rec.Rubric); err != nil {
				return nil, fmt.Errorf("decode rubric for record %d: %w", rec.ID, err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveAudio writes the raw audio into the audio directory and returns its
// path. File names carry the student identity plus a random suffix so two
// attempts never collide.
func (s *SQLite) SaveAudio(ctx context.Context, req model.SubmissionRequest, audio []byte) (string, error) {
	if s.audioDir == "" {
		return "", fmt.Errorf("no audio directory configured")
	}
	name := fmt.Sprintf("%s_%s_%s.webm",
		sanitizeFileComponent(req.ClassSection),
		sanitizeFileComponent(req.RollNumber),
		uuid.NewString())
	path := filepath.Join(s.audioDir, name)
	if err := os.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("write audio file: %w", err)
	}
	return path, nil
}

// RecordCount returns the number of stored exam records.
func (s *SQLite) RecordCount() (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM exam_records`).Scan(&count)
	return count, err
}

func sanitizeFileComponent(v string) string {
	v = strings.TrimSpace(v)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, v)
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
