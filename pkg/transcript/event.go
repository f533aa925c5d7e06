// Package transcript records a call's conversation events in memory and, on
// finalize, serializes them to a CSV artifact handed to the storage sink.
package transcript

import "time"

// Speaker identifies who an event is attributed to.
type Speaker string

const (
	SpeakerSystem Speaker = "system"
	SpeakerUser   Speaker = "user"
	SpeakerBot    Speaker = "bot"
)

// Kind classifies a transcript event.
type Kind string

const (
	KindInitialization Kind = "initialization"
	KindCallStart      Kind = "call_start"
	KindAudioInput     Kind = "audio_input"
	KindAudioResponse  Kind = "audio_response"
	KindCallEnd        Kind = "call_end"
	KindUnhandled      Kind = "unhandled"
	KindError          Kind = "error"
)

// Event is one immutable transcript entry. Content is a human-readable
// summary, never a raw payload; SizeBytes carries the payload size when one
// applies.
type Event struct {
	Timestamp      time.Time
	Speaker        Speaker
	Kind           Kind
	Content        string
	SizeBytes      int
	AdditionalInfo string
}
