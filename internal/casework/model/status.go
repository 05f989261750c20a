package model

import "fmt"

// Status is the lifecycle state of a case.
type Status string

const (
	StatusPending        Status = "pending"
	StatusActive         Status = "active"
	StatusInProgress     Status = "in_progress"
	StatusOnHold         Status = "on_hold"
	StatusAwaitingClient Status = "awaiting_client"
	StatusCompleted      Status = "completed"
	StatusArchived       Status = "archived"
	StatusCancelled      Status = "cancelled"
	StatusDisputed       Status = "disputed"
	StatusOther          Status = "other"
	StatusClosed         Status = "closed"
)

// workingStatuses are the states a case may move freely between once active.
var workingStatuses = map[Status]bool{
	StatusActive:         true,
	StatusInProgress:     true,
	StatusOnHold:         true,
	StatusAwaitingClient: true,
	StatusCompleted:      true,
	StatusArchived:       true,
	StatusCancelled:      true,
	StatusDisputed:       true,
	StatusOther:          true,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusClosed || workingStatuses[s]
}

// Working reports whether s is active or one of the states reachable from it.
func (s Status) Working() bool {
	return workingStatuses[s]
}

// AcceptsLogs reports whether progress logs may be recorded in state s.
func (s Status) AcceptsLogs() bool {
	return s.Working()
}

// Display renders the status with its label for the "other" state.
func Display(s Status, label string) string {
	if s == StatusOther && label != "" {
		return string(s) + ":" + label
	}
	return string(s)
}

// CheckTransition validates a move from (from, fromLabel) to (to, toLabel).
//
//	pending -> active
//	active | working -> any other working state, or closed
//	closed is terminal
//
// Moving to the current state is rejected except for a relabelled "other".
func CheckTransition(from Status, fromLabel string, to Status, toLabel string) error {
	if !to.Valid() {
		return &ErrValidation{Msg: fmt.Sprintf("unknown status %q", to)}
	}
	if to == StatusOther && toLabel == "" {
		return &ErrValidation{Msg: "label is required for status \"other\""}
	}
	if to != StatusOther && toLabel != "" {
		return &ErrValidation{Msg: "label is only allowed for status \"other\""}
	}

	switch {
	case from == StatusClosed:
		return &ErrTransition{From: from, To: to, Msg: "case is closed"}
	case from == StatusPending:
		if to != StatusActive {
			return &ErrTransition{From: from, To: to, Msg: "a pending case can only become active"}
		}
	case from.Working():
		if to == StatusPending {
			return &ErrTransition{From: from, To: to, Msg: "a case cannot return to pending"}
		}
		if to == from && (to != StatusOther || toLabel == fromLabel) {
			return &ErrTransition{From: from, To: to, Msg: "case already has this status"}
		}
	default:
		return &ErrTransition{From: from, To: to, Msg: "unknown current status"}
	}
	return nil
}

// ErrTransition is returned for a status change the state machine forbids.
type ErrTransition struct {
	From, To Status
	Msg      string
}

func (e *ErrTransition) Error() string {
	return fmt.Sprintf("cannot move case from %s to %s: %s", e.From, e.To, e.Msg)
}
