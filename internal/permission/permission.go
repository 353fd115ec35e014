// Package permission abstracts the platform microphone permission prompt.
package permission

import "context"

// State reports the current grant.
type State struct {
	Granted     bool `json:"granted"`
	CanAskAgain bool `json:"can_ask_again"`
}

// Checker is consulted synchronously before device acquisition. Denial
// aborts a start with a user-facing reason.
type Checker interface {
	State(ctx context.Context) (State, error)
	Request(ctx context.Context) (State, error)
	OpenSystemSettings() error
}

// Static is a fixed-grant checker for hosts without an interactive
// permission broker.
type Static struct {
	Granted bool
}

func (s Static) State(context.Context) (State, error) {
	return State{Granted: s.Granted, CanAskAgain: !s.Granted}, nil
}

func (s Static) Request(context.Context) (State, error) {
	return State{Granted: s.Granted, CanAskAgain: false}, nil
}

func (s Static) OpenSystemSettings() error { return nil }
