package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// Channel is the NOTIFY channel the jobs table trigger publishes on.
const Channel = "job_updates"

const (
	minReconnectInterval = 5 * time.Second
	maxReconnectInterval = time.Minute
	pingInterval         = 90 * time.Second
)

// Listener subscribes to the job store's native change notifications
// (Postgres LISTEN/NOTIFY) and feeds them into the hub. It holds its own
// dedicated connection, separate from the query pool.
type Listener struct {
	pql    *pq.Listener
	hub    *Hub
	logger *slog.Logger
}

// NewListener opens the LISTEN connection. Failure here is fatal to the API
// service: serving clients that cannot observe updates is refusing quietly.
func NewListener(connStr string, hub *Hub, logger *slog.Logger) (*Listener, error) {
	pql := pq.NewListener(connStr, minReconnectInterval, maxReconnectInterval,
		func(event pq.ListenerEventType, err error) {
			if err != nil {
				logger.Error("Store notification listener event",
					slog.Int("event", int(event)),
					slog.Any("error", err),
				)
			}
		})

	if err := pql.Listen(Channel); err != nil {
		pql.Close()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", Channel, err)
	}

	logger.Info("Listening for job store change notifications",
		slog.String("channel", Channel),
	)

	return &Listener{
		pql:    pql,
		hub:    hub,
		logger: logger,
	}, nil
}

// Run pumps notifications into the hub until the context is canceled.
func (l *Listener) Run(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Notification listener stopping - context canceled")
			return

		case n := <-l.pql.Notify:
			// A nil notification signals a reconnect; updates in the gap are
			// lost, which is acceptable for a live view backed by the store.
			if n == nil {
				l.logger.Warn("Notification connection re-established, updates may have been missed")
				continue
			}

			var u Update
			if err := json.Unmarshal([]byte(n.Extra), &u); err != nil {
				l.logger.Error("Failed to parse change notification",
					slog.String("payload", n.Extra),
					slog.String("error", err.Error()),
				)
				continue
			}

			l.hub.Broadcast(u)

		case <-ticker.C:
			if err := l.pql.Ping(); err != nil {
				l.logger.Warn("Notification listener ping failed",
					slog.Any("error", err),
				)
			}
		}
	}
}

// Close tears down the LISTEN connection
func (l *Listener) Close() error {
	return l.pql.Close()
}
