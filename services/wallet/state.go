package wallet

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the lifecycle position of a submitted action.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPending    Status = "pending"
	StatusConfirming Status = "confirming"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

var ErrInvalidTransition = errors.New("wallet: invalid state transition")

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusSuccess || s == StatusError }

var transitions = map[Status][]Status{
	StatusIdle:       {StatusPending},
	StatusPending:    {StatusConfirming, StatusError},
	StatusConfirming: {StatusSuccess, StatusError},
}

// State is the observable progress of one action. Hash is set only on
// success and Error only on failure.
type State struct {
	Status    Status       `json:"status"`
	Hash      *common.Hash `json:"hash,omitempty"`
	Error     *Classified  `json:"error,omitempty"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

func (s State) advance(next Status, at time.Time) (State, error) {
	for _, allowed := range transitions[s.Status] {
		if allowed == next {
			return State{Status: next, UpdatedAt: at}, nil
		}
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
}

// Pending starts an action.
func (s State) Pending(at time.Time) (State, error) { return s.advance(StatusPending, at) }

// Confirming marks the batch as handed to the executor.
func (s State) Confirming(at time.Time) (State, error) { return s.advance(StatusConfirming, at) }

// Succeeded records the transaction hash.
func (s State) Succeeded(hash common.Hash, at time.Time) (State, error) {
	next, err := s.advance(StatusSuccess, at)
	if err != nil {
		return s, err
	}
	next.Hash = &hash
	return next, nil
}

// Failed records a classified failure.
func (s State) Failed(failure Classified, at time.Time) (State, error) {
	next, err := s.advance(StatusError, at)
	if err != nil {
		return s, err
	}
	next.Error = &failure
	return next, nil
}
