package session

import (
	"context"
	"fmt"

	"tokbot/internal/transport"
)

// Machine drives Idle -> AwaitingBroadcastContent -> AwaitingConfirmation -> Idle.
// Callers serialize access per user; the dispatch loop routes each user to one worker.
type Machine struct {
	store Store
}

func NewMachine(store Store) *Machine {
	return &Machine{store: store}
}

func (m *Machine) State(ctx context.Context, userID int64) (State, error) {
	s, err := m.store.Get(ctx, userID)
	if err != nil {
		return Idle, err
	}
	return s.State, nil
}

// Begin opens the compose flow. Any earlier pending message is discarded.
func (m *Machine) Begin(ctx context.Context, userID int64) error {
	return m.store.Put(ctx, userID, Session{State: AwaitingBroadcastContent})
}

// Capture stores the composed message and moves to AwaitingConfirmation.
func (m *Machine) Capture(ctx context.Context, userID int64, ref transport.MessageRef) error {
	cur, err := m.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if cur.State != AwaitingBroadcastContent {
		return fmt.Errorf("%w: capture in %s", ErrUnexpectedState, cur.State)
	}
	return m.store.Put(ctx, userID, Session{State: AwaitingConfirmation, Pending: ref})
}

// Confirm returns the captured message and resets the session to Idle.
func (m *Machine) Confirm(ctx context.Context, userID int64) (transport.MessageRef, error) {
	cur, err := m.store.Get(ctx, userID)
	if err != nil {
		return transport.MessageRef{}, err
	}
	if cur.State != AwaitingConfirmation {
		return transport.MessageRef{}, fmt.Errorf("%w: confirm in %s", ErrUnexpectedState, cur.State)
	}
	if err := m.store.Delete(ctx, userID); err != nil {
		return transport.MessageRef{}, err
	}
	return cur.Pending, nil
}

// Cancel resets the session to Idle.
func (m *Machine) Cancel(ctx context.Context, userID int64) error {
	return m.store.Delete(ctx, userID)
}
