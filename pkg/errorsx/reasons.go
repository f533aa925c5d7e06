package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonAgentPrompt    ReasonCode = "agent_prompt_fetch"
	ReasonAgentSignedURL ReasonCode = "agent_signed_url"
	ReasonAgentConnect   ReasonCode = "agent_connect"
	ReasonAgentSend      ReasonCode = "agent_send"

	ReasonTranslateFrame ReasonCode = "translate_frame"

	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"

	ReasonTranscriptUpload ReasonCode = "transcript_upload"

	ReasonDial ReasonCode = "dial"
)
