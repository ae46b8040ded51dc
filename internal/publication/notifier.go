package publication

import (
	"context"
	"fmt"
	"io"

	"github.com/wonny/tally/pkg/httputil"
	"github.com/wonny/tally/pkg/logger"
)

const defaultQueueSize = 64

// Notifier posts publication events to a webhook.
// Events are queued and delivered by Run; a full queue drops the event.
type Notifier struct {
	url    string
	client *httputil.Client
	queue  chan Event
	logger *logger.Logger
}

// NewNotifier creates a webhook notifier for url
func NewNotifier(url string, client *httputil.Client, log *logger.Logger) *Notifier {
	return &Notifier{
		url:    url,
		client: client,
		queue:  make(chan Event, defaultQueueSize),
		logger: log.Component("publication.webhook"),
	}
}

// Notify implements Sink
func (n *Notifier) Notify(ctx context.Context, ev Event) {
	select {
	case n.queue <- ev:
	default:
		n.logger.WithFields(logger.Fields{
			"type":  string(ev.Type),
			"scope": ev.Unit.Key,
		}).Warn("Webhook queue full, dropping event")
	}
}

// Run delivers queued events until ctx is cancelled
func (n *Notifier) Run(ctx context.Context) {
	n.logger.WithField("url", n.url).Info("Starting webhook notifier")

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("Webhook notifier stopped (context cancelled)")
			return
		case ev := <-n.queue:
			if err := n.deliver(ctx, ev); err != nil {
				n.logger.WithError(err).WithField("scope", ev.Unit.Key).Error("Failed to deliver publication event")
			}
		}
	}
}

// Pending returns the number of queued events
func (n *Notifier) Pending() int {
	return len(n.queue)
}

func (n *Notifier) deliver(ctx context.Context, ev Event) error {
	resp, err := n.client.PostJSON(ctx, n.url, ev)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.WithFields(logger.Fields{
		"type":  string(ev.Type),
		"scope": ev.Unit.Key,
	}).Debug("Publication event delivered")
	return nil
}
