package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Room code errors
	CodeRoomCodeInvalidFormat  Code = "LOBBY_CODE_INVALID_FORMAT"
	CodeRoomCodeSpaceExhausted Code = "LOBBY_CODE_SPACE_EXHAUSTED"

	// Lobby input errors
	CodeInvalidRequest    Code = "LOBBY_INVALID_REQUEST"
	CodeInvalidDifficulty Code = "LOBBY_INVALID_DIFFICULTY"
	CodeIdentityRequired  Code = "LOBBY_IDENTITY_REQUIRED"

	// Session errors
	CodeSessionNotFound    Code = "LOBBY_SESSION_NOT_FOUND"
	CodeSessionAlreadyFull Code = "LOBBY_SESSION_ALREADY_FULL"
	CodeSessionConflict    Code = "LOBBY_SESSION_CONFLICT"
	CodeSelfJoin           Code = "LOBBY_SELF_JOIN"

	// Matchmaking errors
	CodeTicketNotFound Code = "LOBBY_TICKET_NOT_FOUND"
)

// HTTPStatus maps domain codes to HTTP status codes for API responses.
func (c Code) HTTPStatus() int {
	switch c {
	// Bad request - validation failures, bad input
	case CodeRoomCodeInvalidFormat,
		CodeInvalidRequest,
		CodeInvalidDifficulty,
		CodeIdentityRequired:
		return http.StatusBadRequest

	// Not found - no live record behind the key
	case CodeSessionNotFound,
		CodeTicketNotFound:
		return http.StatusNotFound

	// Conflict - a concurrent operation won the race
	case CodeSessionAlreadyFull,
		CodeSessionConflict:
		return http.StatusConflict

	// Unprocessable - well-formed request the state machine rejects
	case CodeSelfJoin:
		return http.StatusUnprocessableEntity

	// Service unavailable - generator retry budget exhausted
	case CodeRoomCodeSpaceExhausted:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
