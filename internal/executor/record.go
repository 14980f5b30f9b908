package executor

import (
	"encoding/json"
	"time"

	"github.com/droverhq/drover/internal/tasks"
)

// ErrorRecord is one collected failure. Records accumulate on the task
// across retries and land in result.errors when the task goes terminal,
// so a failed task's history shows every attempt.
type ErrorRecord struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Severity  Severity       `json:"severity"`
	Retryable bool           `json:"retryable"`
	Timestamp string         `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`
}

func newRecord(err error, context map[string]any) ErrorRecord {
	class := Classify(err)
	return ErrorRecord{
		Type:      string(class),
		Message:   err.Error(),
		Severity:  SeverityMedium,
		Retryable: class.Retryable(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Context:   context,
	}
}

// priorRecords decodes records attached by an earlier attempt. The
// round-trip through queue storage turns them into plain maps, so
// decode through json rather than type-asserting.
func priorRecords(t *tasks.Task) []ErrorRecord {
	if t.Result == nil {
		return nil
	}
	raw, ok := t.Result["errors"]
	if !ok {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var recs []ErrorRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil
	}
	return recs
}
