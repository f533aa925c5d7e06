// Package wire defines the two wire schemas the bridge sits between and the
// stateless translation between them: the Twilio media-stream framing on the
// telephony side and the conversational-agent framing on the AI side.
package wire

// MulawContentType is the fixed audio encoding for media sent back to the
// telephony side (8-bit mulaw at 8 kHz, Twilio Media Streams default).
const MulawContentType = "audio/x-mulaw"

// CallerEvent is one inbound message on the telephony media-stream socket.
type CallerEvent struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid,omitempty"`
	Start     *CallerStart `json:"start,omitempty"`
	Media     *CallerMedia `json:"media,omitempty"`
	Stop      *CallerStop  `json:"stop,omitempty"`
}

// CallerStart carries the stream and call identifiers assigned by the
// telephony layer, plus any custom parameters set on the <Stream> verb.
type CallerStart struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type CallerMedia struct {
	Payload string `json:"payload"`
}

type CallerStop struct {
	CallSID string `json:"callSid,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// callerMediaOut is the outbound media frame toward the telephony socket.
type callerMediaOut struct {
	Event     string          `json:"event"`
	StreamSID string          `json:"streamSid"`
	Media     mediaPayloadOut `json:"media"`
}

type mediaPayloadOut struct {
	Payload     string `json:"payload"`
	ContentType string `json:"content_type"`
}

// callerClearOut tells the telephony side to flush buffered playback.
type callerClearOut struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}
