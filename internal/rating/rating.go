// SPDX-License-Identifier: MIT

// Package rating implements the pure like/dislike toggle logic.
//
// The remote catalog reports LIKE faithfully but returns INDIFFERENT for both
// truly neutral and disliked tracks, so a Neutral read is ambiguous. The
// transition table below is fixed with that in mind: a second Dislike on a
// track the catalog reports as Neutral dislikes it again instead of toggling
// it off. Callers read the current state, run Transition, and write the
// returned upstream value back; this package never performs I/O.
package rating

import (
	"fmt"
	"strings"
)

// State is the tri-state rating value.
type State int

const (
	Neutral State = iota
	Liked
	Disliked
)

// Wire names used by the catalog API.
const (
	wireNeutral  = "INDIFFERENT"
	wireLiked    = "LIKE"
	wireDisliked = "DISLIKE"
)

// String returns the catalog wire name for the state.
func (s State) String() string {
	switch s {
	case Liked:
		return wireLiked
	case Disliked:
		return wireDisliked
	default:
		return wireNeutral
	}
}

// ParseState maps a catalog wire name onto a State. Unknown values map to
// Neutral with an error so callers can decide whether to proceed.
func ParseState(raw string) (State, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case wireLiked:
		return Liked, nil
	case wireDisliked:
		return Disliked, nil
	case wireNeutral, "NONE", "":
		return Neutral, nil
	default:
		return Neutral, fmt.Errorf("unknown rating %q", raw)
	}
}

// Action is a user toggle input.
type Action int

const (
	Like Action = iota
	Dislike
)

// String returns the lowercase command name for the action.
func (a Action) String() string {
	if a == Dislike {
		return "dislike"
	}
	return "like"
}

// ParseAction maps a command name onto an Action.
func ParseAction(raw string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "like":
		return Like, nil
	case "dislike":
		return Dislike, nil
	default:
		return Like, fmt.Errorf("unknown rating action %q", raw)
	}
}

// Transition applies an action to the current state. It returns the new local
// state and the value to write upstream; the two always agree, both are
// returned so call sites read naturally.
func Transition(current State, action Action) (next State, upstream State) {
	switch current {
	case Liked:
		if action == Like {
			next = Neutral
		} else {
			next = Disliked
		}
	case Disliked:
		if action == Like {
			next = Liked
		} else {
			next = Neutral
		}
	default: // Neutral
		if action == Like {
			next = Liked
		} else {
			next = Disliked
		}
	}
	return next, next
}
