package notifier

import "edgemon-go/model"

// IService pushes DANGER verdicts out of process. Implementations own
// their own repeat-suppression cooldown; callers just fire on every
// newly observed danger state.
type IService interface {
	Notify(event model.AlertEvent) error
	Close()
}
