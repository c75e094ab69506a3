// Package audio provides WAV parsing and PCM chunking for the load generator.
package audio
