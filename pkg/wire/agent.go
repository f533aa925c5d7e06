package wire

import "encoding/json"

// Agent message type tags, as received on the conversational-agent socket.
const (
	AgentTypeAudio              = "audio"
	AgentTypeInterruption       = "interruption"
	AgentTypePing               = "ping"
	AgentTypeInitiationMetadata = "conversation_initiation_metadata"
)

// AgentMessage is one inbound message on the agent socket. Only the kinds
// the bridge reacts to are decoded; everything else is relayed to the
// transcript as unhandled.
type AgentMessage struct {
	Type       string           `json:"type"`
	Audio      *AgentAudio      `json:"audio,omitempty"`
	AudioEvent *AgentAudioEvent `json:"audio_event,omitempty"`
	PingEvent  *AgentPingEvent  `json:"ping_event,omitempty"`
}

type AgentAudio struct {
	Chunk string `json:"chunk"`
}

// AgentAudioEvent is the alternate audio field some agent firmware emits.
type AgentAudioEvent struct {
	AudioBase64 string `json:"audio_base_64"`
}

// AgentPingEvent carries the correlation identifier a pong must echo.
// The identifier is kept raw so numeric and string forms round-trip as-is.
type AgentPingEvent struct {
	EventID json.RawMessage `json:"event_id"`
}

// AudioChunk returns the base64 audio payload of an audio message,
// whichever field it arrived in.
func (m AgentMessage) AudioChunk() (string, bool) {
	if m.Audio != nil && m.Audio.Chunk != "" {
		return m.Audio.Chunk, true
	}
	if m.AudioEvent != nil && m.AudioEvent.AudioBase64 != "" {
		return m.AudioEvent.AudioBase64, true
	}
	return "", false
}

// agentInitiationOut opens an agent conversation with the prompt override
// and per-call dynamic context.
type agentInitiationOut struct {
	Type                       string             `json:"type"`
	ConversationConfigOverride initiationOverride `json:"conversation_config_override"`
	DynamicVariables           map[string]string  `json:"dynamic_variables,omitempty"`
}

type initiationOverride struct {
	Agent initiationAgent `json:"agent"`
}

type initiationAgent struct {
	Prompt initiationPrompt `json:"prompt"`
}

type initiationPrompt struct {
	Prompt string `json:"prompt"`
}

type agentPongOut struct {
	Type    string          `json:"type"`
	EventID json.RawMessage `json:"event_id,omitempty"`
}

type agentUserAudioOut struct {
	UserAudioChunk string `json:"user_audio_chunk"`
}
