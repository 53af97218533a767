package prompts

import (
	"fmt"
	"time"
)

// dateTimeLayout renders the current time for the model, always in UTC.
const dateTimeLayout = "2006-01-02 15:04:05 MST"

// userMessageTemplate wraps every event. Format verbs: (1) event text,
// (2) current date and time.
const userMessageTemplate = "%s The current date and time is %s. " +
	"You may use any tools available to you, or do nothing at all. " +
	"The user cannot see your responses directly, so you must use the tools if you would like to respond to the user. " +
	"Take your time and think carefully before responding."

// UserMessage returns the opening user turn of an invocation.
func UserMessage(event string, now time.Time) string {
	return fmt.Sprintf(userMessageTemplate, event, now.UTC().Format(dateTimeLayout))
}
