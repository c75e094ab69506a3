// Package harness coordinates the worker pool: it spawns one worker per
// simulated connection and owns the shutdown sequence, including the hard
// join deadline that keeps a stuck connection from hanging the process.
package harness
