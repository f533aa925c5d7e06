package wire

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/harunnryd/sambung/pkg/errorsx"
)

// ParseCallerEvent decodes one telephony-side message.
func ParseCallerEvent(raw []byte) (CallerEvent, error) {
	var evt CallerEvent
	if err := json.Unmarshal(raw, &evt); err != nil {
		return CallerEvent{}, errorsx.Wrap(err, errorsx.ReasonTranslateFrame)
	}
	if evt.Event == "" {
		return CallerEvent{}, errorsx.Wrap(errors.New("missing event tag"), errorsx.ReasonTranslateFrame)
	}
	return evt, nil
}

// ParseAgentMessage decodes one agent-side message.
func ParseAgentMessage(raw []byte) (AgentMessage, error) {
	var msg AgentMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return AgentMessage{}, errorsx.Wrap(err, errorsx.ReasonTranslateFrame)
	}
	if msg.Type == "" {
		return AgentMessage{}, errorsx.Wrap(errors.New("missing type tag"), errorsx.ReasonTranslateFrame)
	}
	return msg, nil
}

// CallerAudioToAgent wraps a telephony media payload as an agent user-audio
// frame. The payload stays base64 on the wire; it is decoded here only to
// validate it and report its size. Returns the frame and the decoded size.
func CallerAudioToAgent(media *CallerMedia) ([]byte, int, error) {
	if media == nil {
		return nil, 0, errorsx.Wrap(errors.New("media frame without payload"), errorsx.ReasonTranslateFrame)
	}
	decoded, err := base64.StdEncoding.DecodeString(media.Payload)
	if err != nil {
		return nil, 0, errorsx.Wrap(fmt.Errorf("decode media payload: %w", err), errorsx.ReasonTranslateFrame)
	}
	out, err := json.Marshal(agentUserAudioOut{UserAudioChunk: media.Payload})
	if err != nil {
		return nil, 0, errorsx.Wrap(err, errorsx.ReasonTranslateFrame)
	}
	return out, len(decoded), nil
}

// AgentAudioToCaller wraps an agent audio chunk as a telephony media frame
// for the given stream. Returns the frame and the decoded payload size.
func AgentAudioToCaller(streamSID, chunk string) ([]byte, int, error) {
	if streamSID == "" {
		return nil, 0, errorsx.Wrap(errors.New("stream sid unknown"), errorsx.ReasonTranslateFrame)
	}
	decoded, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		return nil, 0, errorsx.Wrap(fmt.Errorf("decode agent audio: %w", err), errorsx.ReasonTranslateFrame)
	}
	out, err := json.Marshal(callerMediaOut{
		Event:     "media",
		StreamSID: streamSID,
		Media: mediaPayloadOut{
			Payload:     chunk,
			ContentType: MulawContentType,
		},
	})
	if err != nil {
		return nil, 0, errorsx.Wrap(err, errorsx.ReasonTranslateFrame)
	}
	return out, len(decoded), nil
}

// AudioChunkSize validates a base64 audio chunk and reports its decoded
// size without building a frame. Used for transcript accounting while a
// chunk is buffered.
func AudioChunkSize(chunk string) (int, error) {
	decoded, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		return 0, errorsx.Wrap(fmt.Errorf("decode agent audio: %w", err), errorsx.ReasonTranslateFrame)
	}
	return len(decoded), nil
}

// InterruptionToClear maps an agent interruption to the telephony clear
// frame that flushes buffered playback.
func InterruptionToClear(streamSID string) ([]byte, error) {
	if streamSID == "" {
		return nil, errorsx.Wrap(errors.New("stream sid unknown"), errorsx.ReasonTranslateFrame)
	}
	return json.Marshal(callerClearOut{Event: "clear", StreamSID: streamSID})
}

// PongFor answers an agent keepalive ping, echoing its correlation
// identifier verbatim.
func PongFor(eventID json.RawMessage) ([]byte, error) {
	return json.Marshal(agentPongOut{Type: "pong", EventID: eventID})
}

// ConversationInitiation builds the agent session-open frame carrying the
// prompt override and, when known, the called number as dynamic context.
func ConversationInitiation(prompt, calledNumber string) ([]byte, error) {
	init := agentInitiationOut{
		Type: "conversation_initiation_client_data",
		ConversationConfigOverride: initiationOverride{
			Agent: initiationAgent{Prompt: initiationPrompt{Prompt: prompt}},
		},
	}
	if calledNumber != "" {
		init.DynamicVariables = map[string]string{"called_number": calledNumber}
	}
	return json.Marshal(init)
}
