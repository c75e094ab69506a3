// Package source produces the PCM frame stream that feeds the fanout
// channel, either from a WAV file replayed in real time, from a live reader
// such as stdin, or from a synthetic tone generator.
package source
