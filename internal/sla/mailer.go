package sla

import (
	"context"
	"time"

	"taxdesk.org/internal/obs"
)

// LogMailer writes each reminder as a structured log line instead of sending
// mail. Used until an SMTP or provider integration is configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, r Reminder) error {
	obs.LogRequest(map[string]any{
		"ts":          time.Now().UTC().Format(time.RFC3339Nano),
		"level":       "info",
		"msg":         "reminder_dispatch",
		"reminder_id": r.ID,
		"entity_id":   r.EntityID,
		"kind":        string(r.Kind),
		"occurrence":  r.NextSendAt.UTC().Format(time.RFC3339),
	})
	return nil
}
