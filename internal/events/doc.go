// Package events classifies messages received from the speech service.
package events
