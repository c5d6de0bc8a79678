package convdispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EventTypeConversionRequested is the event type written alongside a new conversion task.
const EventTypeConversionRequested = "conversion.requested"

// EventStatus represents the lifecycle state of an outbox event.
type EventStatus string

const (
	// EventPending indicates the event is waiting to be dispatched.
	EventPending EventStatus = "pending"
	// EventProcessed indicates the job was enqueued and the event is done.
	EventProcessed EventStatus = "processed"
	// EventFailed indicates the last dispatch attempt failed.
	EventFailed EventStatus = "failed"
)

// TaskStatus represents the lifecycle state of a conversion task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
)

// Event is a stored outbox event fetched for dispatching.
type Event struct {
	ID          string
	AggregateID string
	EventType   string
	// Data is the payload as stored, see Decode.
	Data         json.RawMessage
	Status       EventStatus
	CreatedAt    time.Time
	ProcessedAt  *time.Time
	ErrorMessage string
	// Attempts counts failures recorded for this event so far.
	Attempts int
}

// EventData is the validated payload of a conversion event.
type EventData struct {
	TaskID    string     `json:"id"`
	Format    string     `json:"format"`
	InputPath string     `json:"input_path"`
	MIMEType  string     `json:"mimetype"`
	FileSize  *int64     `json:"file_size"`
	Status    TaskStatus `json:"status"`
	Priority  *int       `json:"priority,omitempty"`
}

// Decode parses and validates the event payload.
// Every validation failure wraps ErrMalformedPayload.
func (e Event) Decode() (EventData, error) {
	var data EventData

	raw := bytes.TrimSpace(e.Data)
	if len(raw) == 0 || raw[0] != '{' {
		return data, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := data.validate(e.AggregateID); err != nil {
		return data, err
	}

	return data, nil
}

func (d EventData) validate(aggregateID string) error {
	switch {
	case d.TaskID == "":
		return fmt.Errorf("%w: id is required", ErrMalformedPayload)
	case d.Format == "":
		return fmt.Errorf("%w: format is required", ErrMalformedPayload)
	case d.InputPath == "":
		return fmt.Errorf("%w: input_path is required", ErrMalformedPayload)
	case d.FileSize == nil:
		return fmt.Errorf("%w: file_size is required", ErrMalformedPayload)
	case *d.FileSize < 0:
		return fmt.Errorf("%w: file_size must be non-negative", ErrMalformedPayload)
	case aggregateID != "" && d.TaskID != aggregateID:
		return fmt.Errorf("%w: id %q does not match aggregate %q", ErrMalformedPayload, d.TaskID, aggregateID)
	}

	return nil
}

// Job converts the payload into the queue job handed to the Router.
func (d EventData) Job() Job {
	var size int64
	if d.FileSize != nil {
		size = *d.FileSize
	}

	return Job{
		TaskID:    d.TaskID,
		Format:    d.Format,
		InputPath: d.InputPath,
		MIMEType:  d.MIMEType,
		FileSize:  size,
		Status:    d.Status,
		Priority:  d.Priority,
	}
}
