package prompts

import "fmt"

// IdleEvent is the event text for an idle tick.
const IdleEvent = "You are currently idle. If you'd like, you can choose to do something interesting to pass the time. You may also choose to do nothing at all."

// MessageEvent describes a new message in a channel. It names the place
// but not the message; the agent reads the channel with its tools.
func MessageEvent(server, channel string) string {
	return fmt.Sprintf("You received a message in the Discord server %s's channel #%s.", server, channel)
}
