package model

import (
	"encoding/json"
	"strconv"
	"time"
)

// ExamInfo identifies one exam run in exports. Stored as metadata by the
// serve command, read back by export when flags are omitted.
type ExamInfo struct {
	ExamID  string `json:"exam_id"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
}

// ResultsExport is the top-level JSON structure for exam result export.
type ResultsExport struct {
	ExamID     string       `json:"exam_id"`
	Subject    string       `json:"subject"`
	Date       string       `json:"date"`
	NumRecords int          `json:"num_records"`
	Records    []ExamRecord `json:"records"`
}

// ExportColumns is the flat column order used by downstream tabular
// consumers. CSV export must preserve this set and order.
var ExportColumns = []string{
	"timestamp",
	"student_name",
	"class_section",
	"roll_number",
	"topic",
	"score_percent",
	"rubric_breakdown",
	"transcript",
	"teacher_comment",
	"audio_reference",
}

// CSVRow renders the record as one row in the ExportColumns order.
func (r ExamRecord) CSVRow() []string {
	rubric, _ := json.Marshal(r.Rubric)
	return []string{
		r.Timestamp.Format(time.RFC3339),
		r.StudentName,
		r.ClassSection,
		r.RollNumber,
		r.Topic,
		strconv.Itoa(r.Percent),
		string(rubric),
		r.Transcript,
		r.TeacherComment,
		r.AudioRef,
	}
}
