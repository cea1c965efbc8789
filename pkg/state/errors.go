package state

import "errors"

var (
	// ErrEmptyRoomID rejects joins with a missing room identifier.
	ErrEmptyRoomID = errors.New("room id must not be empty")

	// ErrRoomNotFound signals an operation on a room that no longer exists.
	// Stale events after a room was destroyed must not resurrect it.
	ErrRoomNotFound = errors.New("room not found")

	// ErrUnknownConnection signals an operation for a connection that was
	// never registered or has already been deregistered.
	ErrUnknownConnection = errors.New("connection not registered")
)
