// Package session implements the websocket client for a single streaming
// connection to the speech service.
package session
