package bonus

import (
	"time"

	"github.com/albion/platform/internal/platform/apperr"
)

// transitions is the monotonic status graph. locked is handled separately:
// it is reachable from active, in_progress, and requirements_met, and can
// return to the state it came from or fall to cancelled.
var transitions = map[Status][]Status{
	StatusPending:         {StatusActive, StatusCancelled, StatusExpired},
	StatusActive:          {StatusInProgress, StatusRequirementsMet, StatusForfeited, StatusExpired, StatusCancelled, StatusLocked},
	StatusInProgress:      {StatusRequirementsMet, StatusForfeited, StatusExpired, StatusCancelled, StatusLocked},
	StatusRequirementsMet: {StatusConverted, StatusForfeited, StatusExpired, StatusCancelled, StatusLocked},
	StatusConverted:       {StatusClaimed},
	StatusClaimed:         {},
	StatusForfeited:       {},
	StatusExpired:         {},
	StatusCancelled:       {},
}

// lockableStates are the states locked can be entered from and returned to.
var lockableStates = map[Status]bool{
	StatusActive:          true,
	StatusInProgress:      true,
	StatusRequirementsMet: true,
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	if from == StatusLocked {
		return lockableStates[to] || to == StatusCancelled
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves a user bonus to a new status, recording history and
// stamping the lifecycle timestamps. Illegal moves are precondition
// failures.
func Transition(ub *UserBonus, to Status, reason, actor string) error {
	from := ub.Status
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return apperr.Precondition("InvalidBonusTransition",
			"cannot move bonus from "+string(from)+" to "+string(to))
	}

	// Returning from locked must land on the state the lock captured,
	// unless the review cancels outright.
	if from == StatusLocked && to != StatusCancelled && to != ub.LockedFrom {
		return apperr.Precondition("InvalidBonusTransition",
			"locked bonus can only return to "+string(ub.LockedFrom)+" or cancelled")
	}

	now := time.Now().UTC()
	switch to {
	case StatusLocked:
		ub.LockedFrom = from
	case StatusActive:
		if ub.ActivatedAt == nil {
			ub.ActivatedAt = &now
		}
	case StatusRequirementsMet:
		ub.CompletedAt = &now
	case StatusConverted:
		ub.ConvertedAt = &now
	case StatusClaimed:
		ub.ClaimedAt = &now
	case StatusForfeited:
		ub.ForfeitedAt = &now
	}
	if from == StatusLocked && to != StatusCancelled {
		ub.LockedFrom = ""
	}

	ub.Status = to
	ub.History = append(ub.History, HistoryEntry{
		Status:    to,
		Reason:    reason,
		Actor:     actor,
		Timestamp: now,
	})
	return nil
}
