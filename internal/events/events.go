package events

import (
	"github.com/tidwall/gjson"
)

// Kind is the category of a service message, derived from its type field.
type Kind int

const (
	KindOther Kind = iota
	KindResult
	KindSpeechStarted
	KindUtteranceEnd
	KindMetadata
)

// String returns the stats-table label for the kind.
func (k Kind) String() string {
	switch k {
	case KindResult:
		return "results"
	case KindSpeechStarted:
		return "speech_started"
	case KindUtteranceEnd:
		return "utterance_end"
	case KindMetadata:
		return "metadata"
	default:
		return "other"
	}
}

// Event is one classified service message.
type Event struct {
	Kind Kind
	Type string // raw discriminator value, empty if absent
	Raw  []byte
}

// Classify parses a text message from the service and buckets it by its
// "type" field ("event" is accepted as a fallback discriminator). Malformed
// JSON and unknown types both land in KindOther so a noisy service never
// breaks the read loop.
func Classify(msg []byte) Event {
	ev := Event{Kind: KindOther, Raw: msg}

	if !gjson.ValidBytes(msg) {
		return ev
	}

	typ := gjson.GetBytes(msg, "type")
	if !typ.Exists() {
		typ = gjson.GetBytes(msg, "event")
	}
	if !typ.Exists() {
		return ev
	}
	ev.Type = typ.String()

	switch ev.Type {
	case "TurnInfo", "Results", "Update":
		ev.Kind = KindResult
	case "SpeechStarted":
		ev.Kind = KindSpeechStarted
	case "UtteranceEnd", "EndOfTurn":
		ev.Kind = KindUtteranceEnd
	case "Metadata":
		ev.Kind = KindMetadata
	}
	return ev
}

// Transcript extracts a display transcript from a result message, looking in
// the places the Flux and legacy listen APIs put it. Returns "" when absent.
func Transcript(msg []byte) string {
	for _, path := range []string{
		"transcript",
		"turn_info.transcript",
		"channel.alternatives.0.transcript",
	} {
		if v := gjson.GetBytes(msg, path); v.Exists() {
			return v.String()
		}
	}
	return ""
}
