// Package report renders the periodic per-connection stats table.
package report
