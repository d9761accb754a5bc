/*
Package notify sends best-effort announcements to a mess chat room.

PURPOSE:
  Off-day changes are announced to members. Delivery is fire-and-forget
  relative to the billing mutation that triggered it: callers log a failed
  Announce and carry on, nothing is rolled back.

IMPLEMENTATIONS:
  NATSAnnouncer: publishes to JetStream subject smartmess.announcements.<messId>
  LogAnnouncer:  writes the announcement to the structured log
  Nop:           discards (tests, announcements disabled)
*/
package notify

import (
	"context"

	"github.com/smartmess/billing-engine/logging"
)

// Announcement is a text message for a mess room.
type Announcement struct {
	MessID  string `json:"messId"`
	RoomID  string `json:"roomId,omitempty"`
	ActorID string `json:"actorId"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

// Announcer delivers announcements.
type Announcer interface {
	Announce(ctx context.Context, a Announcement) error
}

// LogAnnouncer logs announcements instead of delivering them.
type LogAnnouncer struct {
	logger logging.Logger
}

func NewLogAnnouncer(logger logging.Logger) *LogAnnouncer {
	return &LogAnnouncer{logger: logger}
}

func (l *LogAnnouncer) Announce(_ context.Context, a Announcement) error {
	l.logger.Info("Announcer", a.Content, map[string]any{
		"mess_id":  a.MessID,
		"room_id":  a.RoomID,
		"actor_id": a.ActorID,
	})
	return nil
}

// Nop discards announcements.
type Nop struct{}

func (Nop) Announce(context.Context, Announcement) error { return nil }
