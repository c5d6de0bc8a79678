package convdispatch

// Task is a conversion request as written by the upstream API together with its outbox event.
type Task struct {
	ID        string
	Format    string
	InputPath string
	MIMEType  string
	FileSize  int64
	Priority  *int
}

// EventData returns the payload stored in the task's conversion.requested event.
func (t Task) EventData() EventData {
	size := t.FileSize

	return EventData{
		TaskID:    t.ID,
		Format:    t.Format,
		InputPath: t.InputPath,
		MIMEType:  t.MIMEType,
		FileSize:  &size,
		Status:    TaskPending,
		Priority:  t.Priority,
	}
}
