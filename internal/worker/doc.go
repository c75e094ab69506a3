// Package worker runs one simulated client connection: it subscribes to the
// audio fanout, streams frames to the service, and accounts every message
// that comes back.
package worker
