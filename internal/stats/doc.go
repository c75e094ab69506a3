// Package stats tracks per-connection counters for the load generator.
package stats
