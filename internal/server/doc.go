// Package server provides the optional HTTP monitoring API of the load
// generator: health, live stats, configuration, and Prometheus metrics.
package server
