package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"time"
)

// maxStreamBackoff caps the reconnect delay for the event stream.
const maxStreamBackoff = 30 * time.Second

// serverEvent mirrors the payloads on the family event stream. Fields
// of event types the agent does not care about stay zero.
type serverEvent struct {
	Type             string `json:"type"`
	ChildID          string `json:"child_id"`
	RemainingMinutes int64  `json:"remaining_minutes"`
}

// EventListener follows the family event stream so a parent's grant
// reaches the device between heartbeats. Balance updates for this
// child are handed to onRemaining; everything else is ignored.
type EventListener struct {
	client      ServerClient
	childID     string
	onRemaining func(remaining int64)
	logger      *slog.Logger
	stopChan    chan struct{}
}

// NewEventListener creates a listener for the given child's balance
// updates.
func NewEventListener(client ServerClient, childID string, onRemaining func(int64), logger *slog.Logger) *EventListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventListener{
		client:      client,
		childID:     childID,
		onRemaining: onRemaining,
		logger:      logger.With("component", "events"),
		stopChan:    make(chan struct{}),
	}
}

// Start follows the stream until the context is cancelled or Stop is
// called, reconnecting with capped backoff. Blocking.
func (l *EventListener) Start(ctx context.Context) {
	l.logger.Info("Event listener started", "child_id", l.childID)

	backoff := time.Second
	for {
		if l.stopped(ctx) {
			l.logger.Info("Event listener stopped")
			return
		}

		body, err := l.client.OpenEvents(ctx)
		if err != nil {
			if l.stopped(ctx) {
				l.logger.Info("Event listener stopped")
				return
			}
			l.logger.Warn("Event stream connect failed",
				"error", err,
				"retry_in", backoff,
			)
			select {
			case <-ctx.Done():
			case <-l.stopChan:
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxStreamBackoff)
			continue
		}

		l.logger.Info("Event stream connected")
		backoff = time.Second
		l.consume(ctx, body)
	}
}

// Stop ends the listener. Safe to call once.
func (l *EventListener) Stop() {
	close(l.stopChan)
}

func (l *EventListener) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-l.stopChan:
		return true
	default:
		return false
	}
}

// consume reads SSE lines until the stream breaks. A watcher closes the
// body on shutdown so the blocked read ends promptly.
func (l *EventListener) consume(ctx context.Context, body io.ReadCloser) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-l.stopChan:
		case <-done:
		}
		body.Close()
	}()

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data:")
		if !ok {
			continue
		}
		l.dispatch(strings.TrimSpace(data))
	}
	if err := scanner.Err(); err != nil && !l.stopped(ctx) {
		l.logger.Warn("Event stream dropped", "error", err)
	}
}

func (l *EventListener) dispatch(data string) {
	if data == "" {
		return
	}

	var event serverEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		// keepalive pings carry a bare timestamp, not JSON
		l.logger.Debug("Skipping non-JSON stream payload")
		return
	}
	if event.Type != "remaining_updated" || event.ChildID != l.childID {
		return
	}

	l.logger.Debug("Balance update received", "remaining", event.RemainingMinutes)
	l.onRemaining(event.RemainingMinutes)
}
