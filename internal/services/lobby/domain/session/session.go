// Package session models a match lobby session and its state machine.
package session

import (
	"strings"
	"time"

	apperrors "github.com/codeclash/arena/internal/platform/errors"
)

// Capacity is the exact number of participants a matched session holds.
const Capacity = 2

var (
	// ErrInvalidDifficulty indicates an unrecognized difficulty label.
	ErrInvalidDifficulty = apperrors.New(apperrors.CodeInvalidDifficulty, "difficulty must be one of Easy, Medium, Hard")
	// ErrIdentityRequired indicates a missing caller identity.
	ErrIdentityRequired = apperrors.New(apperrors.CodeIdentityRequired, "player identity is required")
)

// Difficulty is the match difficulty selected by the caller.
type Difficulty int

const (
	// DifficultyUnspecified represents an invalid difficulty value.
	DifficultyUnspecified Difficulty = iota
	// DifficultyEasy selects easy matches.
	DifficultyEasy
	// DifficultyMedium selects medium matches.
	DifficultyMedium
	// DifficultyHard selects hard matches.
	DifficultyHard
)

// Difficulties lists all valid difficulty values.
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// DifficultyLabel returns the string label for a difficulty.
func DifficultyLabel(d Difficulty) string {
	switch d {
	case DifficultyEasy:
		return "Easy"
	case DifficultyMedium:
		return "Medium"
	case DifficultyHard:
		return "Hard"
	default:
		return "Unspecified"
	}
}

// DifficultyFromLabel converts a difficulty label to a Difficulty value.
// Matching is case-insensitive.
func DifficultyFromLabel(label string) Difficulty {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "easy":
		return DifficultyEasy
	case "medium":
		return DifficultyMedium
	case "hard":
		return DifficultyHard
	default:
		return DifficultyUnspecified
	}
}

// State describes the lifecycle state of a session.
type State int

const (
	// StateUnspecified represents an invalid session state value.
	StateUnspecified State = iota
	// StateCreated indicates the code exists and no second participant joined.
	StateCreated
	// StateWaiting indicates the creator confirmed the room is ready to be joined.
	StateWaiting
	// StateMatched indicates both participants are present.
	StateMatched
	// StateExpired indicates the session passed its deadline before matching.
	StateExpired
	// StateCancelled indicates the session was cancelled by a caller.
	StateCancelled
)

// StateLabel returns the string label for a session state.
func StateLabel(s State) string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateWaiting:
		return "WAITING"
	case StateMatched:
		return "MATCHED"
	case StateExpired:
		return "EXPIRED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return "UNSPECIFIED"
	}
}

// StateFromLabel converts a state label to a State value.
func StateFromLabel(label string) State {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "CREATED":
		return StateCreated
	case "WAITING":
		return StateWaiting
	case "MATCHED":
		return StateMatched
	case "EXPIRED":
		return StateExpired
	case "CANCELLED":
		return StateCancelled
	default:
		return StateUnspecified
	}
}

// Terminal reports whether s is a terminal state. No state is reachable
// from a terminal state.
func (s State) Terminal() bool {
	return s == StateExpired || s == StateCancelled
}

// Live reports whether a session in state s still reserves its code.
func (s State) Live() bool {
	return s == StateCreated || s == StateWaiting || s == StateMatched
}

// Joinable reports whether a second participant may still join.
func (s State) Joinable() bool {
	return s == StateCreated || s == StateWaiting
}

// CanTransition reports whether the state machine permits moving from s to
// next. The happy path is CREATED → WAITING → MATCHED; any non-terminal
// state may move to CANCELLED or EXPIRED.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StateWaiting:
		return s == StateCreated
	case StateMatched:
		return s == StateCreated || s == StateWaiting
	case StateCancelled, StateExpired:
		return true
	default:
		return false
	}
}

// Session represents one private or quick-matched pairing attempt.
type Session struct {
	Code         string
	Difficulty   Difficulty
	CreatorID    string
	Participants []string
	State        State
	CreatedAt    time.Time
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// Full reports whether the session already holds its participant capacity.
func (s Session) Full() bool {
	return len(s.Participants) >= Capacity
}

// HasParticipant reports whether identity is already attached.
func (s Session) HasParticipant(identity string) bool {
	for _, p := range s.Participants {
		if p == identity {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers never alias store-owned slices.
func (s Session) Clone() Session {
	out := s
	out.Participants = append([]string(nil), s.Participants...)
	return out
}

// NormalizeIdentity trims a caller identity and rejects empty values.
func NormalizeIdentity(identity string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", ErrIdentityRequired
	}
	return identity, nil
}

// ParseDifficulty validates a difficulty label from external input.
func ParseDifficulty(label string) (Difficulty, error) {
	d := DifficultyFromLabel(label)
	if d == DifficultyUnspecified {
		return DifficultyUnspecified, ErrInvalidDifficulty
	}
	return d, nil
}
