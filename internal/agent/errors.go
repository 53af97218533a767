package agent

import (
	"errors"
	"fmt"
)

// ErrEmptyEvent is returned when Invoke is given a blank event.
var ErrEmptyEvent = errors.New("agent: event is empty")

// NoToolCallsError means the model answered the first round of an
// invocation without calling any tool.
type NoToolCallsError struct {
	// Content is what the model said instead.
	Content string
}

func (e *NoToolCallsError) Error() string {
	if e.Content == "" {
		return "no tools were called"
	}
	return fmt.Sprintf("no tools were called: %s", e.Content)
}

// RoundLimitError means the invocation hit the configured round cap.
type RoundLimitError struct {
	Rounds int
}

func (e *RoundLimitError) Error() string {
	return fmt.Sprintf("round limit reached after %d rounds", e.Rounds)
}
