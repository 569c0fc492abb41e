package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/guregu/dynamo/v2"

	"github.com/pavelanni/oralexam/internal/model"
)

// Cloud is the remote backend: exam records in a DynamoDB table, raw audio
// as objects in an S3 bucket.
type Cloud struct {
	table  dynamo.Table
	db     *dynamo.DB
	s3c    *s3.Client
	name   string
	bucket string
	region string
}

// examRecordRow is the DynamoDB shape of one exam record.
type examRecordRow struct {
	ID             string             `dynamo:"id,hash"`
	Timestamp      time.Time          `dynamo:"timestamp"`
	StudentName    string             `dynamo:"student_name"`
	ClassSection   string             `dynamo:"class_section"`
	RollNumber     string             `dynamo:"roll_number"`
	Topic          string             `dynamo:"topic"`
	Percent        int                `dynamo:"score_percent"`
	Rubric         model.RubricScores `dynamo:"rubric_breakdown"`
	Transcript     string             `dynamo:"transcript"`
	TeacherComment string             `dynamo:"teacher_comment"`
	AudioRef       string             `dynamo:"audio_reference"`
}

// NewCloud creates the DynamoDB/S3 backend using the default AWS credential
// chain.
func NewCloud(ctx context.Context, region, tableName, bucket string) (*Cloud, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	db := dynamo.New(cfg)
	return &Cloud{
		table:  db.Table(tableName),
		db:     db,
		s3c:    s3.NewFromConfig(cfg),
		name:   tableName,
		bucket: bucket,
		region: region,
	}, nil
}

// Append stores one record. A missing table is created on first use and the
// write retried once; if creation fails the error wraps ErrNoTable.
func (c *Cloud) Append(ctx context.Context, rec model.ExamRecord) error {
	row := rowFromRecord(rec)
	err := c.table.Put(row).Run(ctx)
	if err == nil {
		return nil
	}
	if !isTableMissing(err) {
		return fmt.Errorf("put exam record: %w", err)
	}

	slog.Info("record table missing, creating", "table", c.name)
	if cerr := c.db.CreateTable(c.name, examRecordRow{}).OnDemand(true).Wait(ctx); cerr != nil {
		return fmt.Errorf("%w: create table %s: %v", ErrNoTable, c.name, cerr)
	}
	if err := c.table.Put(row).Run(ctx); err != nil {
		return fmt.Errorf("put exam record after table create: %w", err)
	}
	return nil
}

// ListAll scans the whole table and returns records most recent first.
// Attempt counting and review both work on the full scan, matching the
// SQLite backend.
func (c *Cloud) ListAll(ctx context.Context) ([]model.ExamRecord, error) {
	var rows []examRecordRow
	if err := c.table.Scan().All(ctx, &rows); err != nil {
		if isTableMissing(err) {
			return nil, fmt.Errorf("%w: %v", ErrNoTable, err)
		}
		return nil, fmt.Errorf("scan exam records: %w", err)
	}

	records := make([]model.ExamRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}

// SaveAudio uploads the raw audio to the S3 bucket and returns the object
// URL.
func (c *Cloud) SaveAudio(ctx context.Context, req model.SubmissionRequest, audio []byte) (string, error) {
	key := fmt.Sprintf("recordings/%s_%s_%s.webm",
		sanitizeFileComponent(req.ClassSection),
		sanitizeFileComponent(req.RollNumber),
		uuid.NewString())
	mediaType := "audio/webm"
	_, err := c.s3c.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &c.bucket,
		Key:         &key,
		Body:        bytes.NewReader(audio),
		ContentType: &mediaType,
	})
	if err != nil {
		return "", fmt.Errorf("upload audio object: %w", err)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", c.bucket, c.region, key), nil
}

func rowFromRecord(rec model.ExamRecord) examRecordRow {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return examRecordRow{
		ID:             uuid.NewString(),
		Timestamp:      ts,
		StudentName:    rec.StudentName,
		ClassSection:   rec.ClassSection,
		RollNumber:     rec.RollNumber,
		Topic:          rec.Topic,
		Percent:        rec.Percent,
		Rubric:         rec.Rubric,
		Transcript:     rec.Transcript,
		TeacherComment: rec.TeacherComment,
		AudioRef:       rec.AudioRef,
	}
}

func (row examRecordRow) record() model.ExamRecord {
	return model.ExamRecord{
		Timestamp:      row.Timestamp,
		StudentName:    row.StudentName,
		ClassSection:   row.ClassSection,
		RollNumber:     row.RollNumber,
		Topic:          row.Topic,
		Percent:        row.Percent,
		Rubric:         row.Rubric,
		Transcript:     row.Transcript,
		TeacherComment: row.TeacherComment,
		AudioRef:       row.AudioRef,
	}
}

func isTableMissing(err error) bool {
	var rnf *types.ResourceNotFoundException
	return errors.As(err, &rnf)
}
