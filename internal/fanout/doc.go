// Package fanout provides a bounded, lossy broadcast channel for PCM frames.
// One producer publishes to any number of independent subscriptions; a slow
// subscription drops its own oldest unread frames instead of blocking the
// producer or other subscriptions, and reports the number of frames it missed.
package fanout
