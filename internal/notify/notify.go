// Package notify dispatches lifecycle events to the notification sink.
// Delivery is at-most-once and best-effort: failures are logged and
// dropped, and ticket state correctness never depends on a notification
// arriving.
package notify

import (
	"context"
	"sync"

	"resale-market/models"
)

// Notifier is the injected sink handle.
type Notifier interface {
	Publish(ctx context.Context, event models.LifecycleEvent)
}

// CaptureNotifier records events in memory. Used by tests and the local
// development driver.
type CaptureNotifier struct {
	mu     sync.Mutex
	events []models.LifecycleEvent
}

func NewCaptureNotifier() *CaptureNotifier {
	return &CaptureNotifier{}
}

func (n *CaptureNotifier) Publish(ctx context.Context, event models.LifecycleEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

// Events returns a copy of everything published so far.
func (n *CaptureNotifier) Events() []models.LifecycleEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.LifecycleEvent(nil), n.events...)
}
