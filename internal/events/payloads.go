package events

import (
	"github.com/droverhq/drover/internal/tasks"
)

// TaskPayload summarizes a task for event consumers.
func TaskPayload(t *tasks.Task) map[string]any {
	p := map[string]any{
		"id":     t.ID,
		"status": string(t.Status),
	}
	if t.Scheduled {
		p["scheduled_id"] = t.ScheduledID
	}
	if t.Retries > 0 {
		p["retries"] = t.Retries
	}
	if t.Error != "" {
		p["error"] = t.Error
	}
	if t.CostUSD != nil {
		p["cost_usd"] = *t.CostUSD
	}
	if t.DurationMS != nil {
		p["duration_ms"] = *t.DurationMS
	}
	return p
}

// TriggerPayload summarizes a scheduled task firing.
func TriggerPayload(st *tasks.ScheduledTask, taskID string) map[string]any {
	return map[string]any{
		"scheduled_id": st.ID,
		"name":         st.Name,
		"cron":         st.Cron,
		"task_id":      taskID,
	}
}

// SchedulerPayload summarizes a scheduler state change.
func SchedulerPayload(status string) map[string]any {
	return map[string]any{"status": status}
}

// QuestionPayload summarizes a question waiting for an answer.
func QuestionPayload(questionID, question string) map[string]any {
	return map[string]any{
		"question_id": questionID,
		"question":    question,
	}
}
