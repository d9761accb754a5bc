package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/smartmess/billing-engine/logging"
)

const (
	StreamName    = "ANNOUNCEMENTS"
	SubjectPrefix = "smartmess.announcements"
)

// Subject returns the subject announcements for messID are published on.
func Subject(messID string) string {
	return SubjectPrefix + "." + messID
}

// NATSAnnouncer publishes announcements to JetStream.
type NATSAnnouncer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewNATSAnnouncer connects to url and ensures the announcement stream
// exists. A stream that cannot be created is logged, not fatal.
func NewNATSAnnouncer(url string, logger logging.Logger) (*NATSAnnouncer, error) {
	nc, err := nats.Connect(url,
		nats.Name("smartmess-billing"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		logger.Warn("Announcer", "Failed to ensure announcement stream", map[string]any{
			"stream": StreamName,
			"error":  err.Error(),
		})
	}

	return &NATSAnnouncer{nc: nc, js: js}, nil
}

// Announce publishes a to the mess's subject.
func (p *NATSAnnouncer) Announce(ctx context.Context, a Announcement) error {
	if a.Type == "" {
		a.Type = "text"
	}
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal announcement: %w", err)
	}

	subject := Subject(a.MessID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish announcement to subject %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (p *NATSAnnouncer) Close() {
	if p.nc != nil {
		p.nc.Drain()
	}
}
