package notifier

import (
	"sync"

	"edgemon-go/model"
)

// Fake records events in memory. It backs tests and runs without a
// NATS server configured.
type Fake struct {
	mu     sync.Mutex
	events []model.AlertEvent
}

func NewFake() *Fake {
	return &Fake{}
}

func (svc *Fake) Notify(event model.AlertEvent) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.events = append(svc.events, event)
	return nil
}

func (svc *Fake) Close() {
}

// Events returns a copy of everything notified so far.
func (svc *Fake) Events() []model.AlertEvent {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := make([]model.AlertEvent, len(svc.events))
	copy(out, svc.events)
	return out
}
