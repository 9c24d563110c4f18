package qa

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

type Status string

const (
	// StatusAnswered means a query was generated and executed; the record
	// may still carry an empty answer.
	StatusAnswered Status = "answered"
	// StatusUnanswered means the synthesizer produced no query. Nothing is
	// persisted for the question.
	StatusUnanswered Status = "unanswered"
	// StatusFailed means the pipeline hit an unexpected failure. The question
	// is persisted as an empty entry.
	StatusFailed Status = "failed"
)

// Outcome is the pipeline's result for one question.
type Outcome struct {
	QuestionID string
	Status     Status
	Record     *AnswerRecord
	Reason     string
}

func Answered(id string, rec *AnswerRecord) Outcome {
	return Outcome{QuestionID: id, Status: StatusAnswered, Record: rec}
}

func Unanswered(id, reason string) Outcome {
	return Outcome{QuestionID: id, Status: StatusUnanswered, Reason: reason}
}

func Failed(id, reason string) Outcome {
	return Outcome{QuestionID: id, Status: StatusFailed, Reason: reason}
}

// Entry converts the outcome into its store form. The second return value is
// false when nothing should be persisted.
func (o Outcome) Entry() (Entry, bool) {
	switch o.Status {
	case StatusAnswered:
		return Entry{QuestionID: o.QuestionID, Record: o.Record}, true
	case StatusFailed:
		return Entry{QuestionID: o.QuestionID}, true
	default:
		return Entry{}, false
	}
}

// Entry is one element of the output store: {questionId: record} or
// {questionId: {}} when the question failed.
type Entry struct {
	QuestionID string
	Record     *AnswerRecord
}

func (e Entry) Empty() bool {
	return e.Record == nil
}

func (e Entry) MarshalJSON() ([]byte, error) {
	var value any = struct{}{}
	if e.Record != nil {
		value = e.Record
	}
	return json.Marshal(map[string]any{e.QuestionID: value})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("entry must be an object: %w", err)
	}
	if len(raw) != 1 {
		return fmt.Errorf("entry must have exactly one key, got %d", len(raw))
	}
	for id, value := range raw {
		e.QuestionID = id
		e.Record = nil
		trimmed := bytes.TrimSpace(value)
		if bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("null")) {
			return nil
		}
		var rec AnswerRecord
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return fmt.Errorf("entry %s: %w", id, err)
		}
		e.Record = &rec
	}
	return nil
}

var ErrNoQuestionID = errors.New("question has no id")
