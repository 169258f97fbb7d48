package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// QuestionType decides how model answers are parsed and scored.
type QuestionType string

const (
	QuestionBinary         QuestionType = "binary"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionCount          QuestionType = "count"
	QuestionText           QuestionType = "text"
)

const (
	ImageStatusPending = "pending"
	ImageStatusReady   = "ready"
	ImageStatusFailed  = "failed"
)

// Project owns datasets and defines the labeling question.
type Project struct {
	ID           uuid.UUID    `db:"id"            json:"id"`
	Name         string       `db:"name"          json:"name"`
	Question     string       `db:"question"      json:"question"`
	QuestionType QuestionType `db:"question_type" json:"question_type"`
	Options      []string     `db:"options"       json:"options,omitempty"`
	CreatedAt    time.Time    `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"    json:"updated_at"`
}

// Dataset is a named collection of images inside a project.
type Dataset struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	ProjectID uuid.UUID `db:"project_id" json:"project_id"`
	Name      string    `db:"name"       json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Image is one uploaded dataset image. StorageRef is a path under the image root
// or an http(s) URL. Width and Height are zero when the upload pipeline did not record them.
type Image struct {
	ID               uuid.UUID `db:"id"                json:"id"`
	DatasetID        uuid.UUID `db:"dataset_id"        json:"dataset_id"`
	Filename         string    `db:"filename"          json:"filename"`
	StorageRef       string    `db:"storage_ref"       json:"storage_ref"`
	ProcessingStatus string    `db:"processing_status" json:"processing_status"`
	Width            int       `db:"width"             json:"width"`
	Height           int       `db:"height"            json:"height"`
	CreatedAt        time.Time `db:"created_at"        json:"created_at"`
}

// ImageSize is a pixel width/height pair.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Annotation is the human ground-truth label for one image.
// AnswerValue holds a JSON bool, integer or string depending on the question type.
type Annotation struct {
	ID          uuid.UUID       `db:"id"           json:"id"`
	ImageID     uuid.UUID       `db:"image_id"     json:"image_id"`
	AnswerValue json.RawMessage `db:"answer_value" json:"answer_value,omitempty"`
	IsSkipped   bool            `db:"is_skipped"   json:"is_skipped"`
	IsFlagged   bool            `db:"is_flagged"   json:"is_flagged"`
	CreatedAt   time.Time       `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"   json:"updated_at"`
}

// HasAnswer reports whether the annotation carries a usable answer.
func (a *Annotation) HasAnswer() bool {
	if a == nil || a.IsSkipped {
		return false
	}
	v := string(a.AnswerValue)
	return v != "" && v != "null"
}
