// Package prompts holds the text the agent sends to models.
//
// Prompt text is Go code rather than configuration because it is program
// logic: templates are interpolated with fmt.Sprintf and pinned by tests.
// The agent's identity, which users do configure, lives in config.yaml.
package prompts
