// Package session keeps the per-admin broadcast compose state.
package session

import (
	"context"
	"errors"

	"tokbot/internal/transport"
)

type State int

const (
	Idle State = iota
	AwaitingBroadcastContent
	AwaitingConfirmation
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingBroadcastContent:
		return "awaiting_content"
	case AwaitingConfirmation:
		return "awaiting_confirmation"
	default:
		return "unknown"
	}
}

// Session is the state slot of one admin. The zero value is Idle.
type Session struct {
	State State `json:"state"`
	// Pending is the composed message, set in AwaitingConfirmation.
	Pending transport.MessageRef `json:"pending"`
}

// Store persists sessions keyed by user id. A missing entry reads as Idle.
type Store interface {
	Get(ctx context.Context, userID int64) (Session, error)
	Put(ctx context.Context, userID int64, s Session) error
	Delete(ctx context.Context, userID int64) error
	Close() error
}

var ErrUnexpectedState = errors.New("unexpected session state")
