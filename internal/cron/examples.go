package cron

import "time"

// Example pairs a cron expression with a human description and, when
// computable, its next fire time.
type Example struct {
	Expression  string `json:"expression"`
	Description string `json:"description"`
	NextRun     string `json:"next_run,omitempty"`
}

var curated = []Example{
	{Expression: "*/5 * * * *", Description: "Every 5 minutes"},
	{Expression: "0 * * * *", Description: "Every hour on the hour"},
	{Expression: "0 */2 * * *", Description: "Every 2 hours"},
	{Expression: "0 9 * * *", Description: "Every day at 09:00"},
	{Expression: "0 9 * * 1-5", Description: "Weekdays at 09:00"},
	{Expression: "0 9 * * 0,6", Description: "Weekends at 09:00"},
	{Expression: "0 0 * * *", Description: "Every day at midnight"},
	{Expression: "0 0 1 * *", Description: "First day of every month at midnight"},
	{Expression: "@hourly", Description: "Alias for 0 * * * *"},
	{Expression: "@daily", Description: "Alias for 0 0 * * *"},
}

// Examples returns the curated expression list with next fire times
// relative to now.
func Examples(now time.Time) []Example {
	out := make([]Example, len(curated))
	for i, ex := range curated {
		out[i] = ex
		if next, err := Next(ex.Expression, now); err == nil {
			out[i].NextRun = next.UTC().Format(time.RFC3339)
		}
	}
	return out
}
