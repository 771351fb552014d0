package service

import (
	"errors"
	"time"
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

var (
	// ErrItemNotFound is returned when an item id does not exist
	ErrItemNotFound = errors.New("item not found")

	// ErrDefinitionNotFound is returned when no definition matches a key or id
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrUserNotFound is returned when a user id does not exist in the org
	ErrUserNotFound = errors.New("user not found")

	// ErrDocumentNotFound is returned when an item has no uploaded document
	ErrDocumentNotFound = errors.New("document not found")

	// ErrInvalidDefinition is returned when a definition fails validation
	ErrInvalidDefinition = errors.New("invalid workflow definition")

	// ErrInvalidInput is returned for malformed requests
	ErrInvalidInput = errors.New("invalid input")
)

// Clock returns the current time; tests replace it
type Clock func() time.Time

func defaultClock() time.Time {
	return time.Now().UTC()
}
