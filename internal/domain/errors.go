package domain

import "errors"

var (
	// ErrReconnectExhausted is reported once a transport session gives up reconnecting.
	ErrReconnectExhausted = errors.New("transport reconnect attempts exhausted")
	// ErrSessionClosed is returned when a transport session was torn down explicitly.
	ErrSessionClosed = errors.New("transport session closed")
	// ErrNotConnected is returned by broker connections used after they dropped.
	ErrNotConnected = errors.New("transport not connected")
	// ErrMalformedMessage marks an inbound payload that could not be decoded.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrGenerationFailed is surfaced when the backend reports a failed quiz build.
	ErrGenerationFailed = errors.New("quiz generation failed")
	// ErrUnauthorized is returned when a REST collaborator answers 401.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a REST collaborator answers 403.
	ErrForbidden = errors.New("forbidden")
	// ErrNotOwner is returned for owner-only room actions.
	ErrNotOwner = errors.New("only the room owner can do this")
	// ErrNoActiveQuestion is returned when answering outside an active question.
	ErrNoActiveQuestion = errors.New("no active question")
	// ErrInvalidChoice indicates a choice index outside the question's choices.
	ErrInvalidChoice = errors.New("invalid choice")
	// ErrAlreadyAnswered is returned when the player already answered the active question.
	ErrAlreadyAnswered = errors.New("already answered")
	// ErrGameInProgress is returned for lobby actions attempted mid-game.
	ErrGameInProgress = errors.New("game in progress")
	// ErrClientStopped is returned once a room client's event loop has exited.
	ErrClientStopped = errors.New("room client stopped")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a requested question index does not exist.
	ErrQuestionNotFound = errors.New("question not found")
)
