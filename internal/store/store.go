// Package store persists exam records and archived audio. Two backends
// implement the same interface: a local SQLite database with a filesystem
// audio directory, and a DynamoDB table with an S3 bucket. The backend is
// selected by configuration; the pipeline never knows which one it talks to.
package store

import (
	"context"
	"errors"

	"github.com/pavelanni/oralexam/internal/model"
)

// ErrNoTable reports that the backing table is missing and could not be
// created. It is a recoverable condition for callers: the scorecard is still
// shown, only persistence failed.
var ErrNoTable = errors.New("backing table missing")

// ResultStore is the durable home of exam records. Records are append-only;
// the core never mutates or deletes them.
type ResultStore interface {
	// Append durably adds one record. The backing table is created on first
	// use if absent. Write failures are reported, not retried.
	Append(ctx context.Context, rec model.ExamRecord) error
	// ListAll returns all records, most recent first. Callers needing the
	// (class, roll) ordering sort at the call site.
	ListAll(ctx context.Context) ([]model.ExamRecord, error)
	// SaveAudio archives the raw audio and returns its reference (a local
	// path or an object URL). Appending the metadata row is the caller's
	// job and must happen only after the reference is known.
	SaveAudio(ctx context.Context, req model.SubmissionRequest, audio []byte) (string, error)
}
