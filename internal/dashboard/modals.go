package dashboard

import (
	"fmt"
	"sync"
)

// DismissTrigger is how a modal was dismissed.
type DismissTrigger string

const (
	TriggerCloseControl DismissTrigger = "close"
	TriggerOutsideClick DismissTrigger = "outside"
	TriggerAction       DismissTrigger = "action"
)

// ParseTrigger maps a request value to a trigger; anything unrecognised is
// the close control.
func ParseTrigger(s string) DismissTrigger {
	switch DismissTrigger(s) {
	case TriggerOutsideClick:
		return TriggerOutsideClick
	case TriggerAction:
		return TriggerAction
	}
	return TriggerCloseControl
}

// ModalRegistry holds exactly one dismissal subscription per modal. Both the
// close control and a click outside the modal route through Dismiss, so
// opening a modal any number of times never adds handlers.
type ModalRegistry struct {
	mu   sync.RWMutex
	subs map[ModalID]func(DismissTrigger)
}

func NewModalRegistry() *ModalRegistry {
	return &ModalRegistry{subs: make(map[ModalID]func(DismissTrigger))}
}

// Subscribe installs the dismissal handler for id. It reports false, and
// leaves the existing handler in place, if id already has one.
func (r *ModalRegistry) Subscribe(id ModalID, onDismiss func(DismissTrigger)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; ok {
		return false
	}
	r.subs[id] = onDismiss
	return true
}

func (r *ModalRegistry) Dismiss(id ModalID, trigger DismissTrigger) error {
	r.mu.RLock()
	fn, ok := r.subs[id]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("modal %q: no dismissal subscription", id)
	}
	fn(trigger)
	return nil
}

// Subscriptions returns the number of handlers installed for id.
func (r *ModalRegistry) Subscriptions(id ModalID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.subs[id]; ok {
		return 1
	}
	return 0
}

// CloseModal dismisses the modal id by trigger.
func (a *App) CloseModal(id ModalID, trigger DismissTrigger) error {
	return a.modals.Dismiss(id, trigger)
}

// OpenPolicyForm shows the add-policy form.
func (a *App) OpenPolicyForm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	form := a.view.Modals[ModalPolicyForm].clone()
	a.openModalLocked(form)
}

// openModalLocked shows m and hides every other modal.
func (a *App) openModalLocked(m Modal) {
	for _, other := range a.view.Modals {
		other.Open = false
	}
	m.Open = true
	a.view.Modals[m.ID] = &m
}
