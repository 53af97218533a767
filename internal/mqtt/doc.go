// Package mqtt mirrors the event bus onto an MQTT broker. Every bus
// event is published as JSON to <prefix>/events/<source>/<kind>, a
// retained <prefix>/availability topic tracks whether the process is
// up, and a retained <prefix>/tokens_today topic carries the day's
// token totals.
//
// The connection is managed by Eclipse Paho v2's [autopaho] package,
// which reconnects on its own. A will message flips availability to
// "offline" on unexpected disconnects.
package mqtt
