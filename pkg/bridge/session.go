// Package bridge owns the lifetime of one phone call: it multiplexes the
// telephony media-stream socket and the conversational-agent socket,
// translates frames between them, and finalizes the call transcript on
// teardown.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/sambung/pkg/metrics"
	"github.com/harunnryd/sambung/pkg/transcript"
	"github.com/harunnryd/sambung/pkg/wire"
)

// Socket is the subset of a WebSocket connection the session drives.
// Both gorilla server and client conns satisfy it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

const textMessage = 1 // websocket.TextMessage, kept local so fakes need no gorilla import

// AgentConnector performs the agent-side setup: fetch the prompt, fetch a
// signed connection URL, open the socket. The initiation frame is sent by
// the session itself so the called number can still arrive via the
// telephony start frame while setup is in flight.
type AgentConnector interface {
	Connect(ctx context.Context) (sock Socket, prompt string, err error)
}

type eventKind int

const (
	evCallerFrame eventKind = iota
	evCallerClosed
	evAgentReady
	evAgentSetupErr
	evAgentFrame
	evAgentClosed
	evExternalEnd
)

type sessionEvent struct {
	kind   eventKind
	data   []byte
	sock   Socket
	prompt string
	err    error
	reason string
}

// SessionParams wires one call's collaborators.
type SessionParams struct {
	Config       Config
	Caller       Socket
	Agents       AgentConnector
	Recorder     *transcript.Recorder
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	TraceID      string
	CalledNumber string

	// OnStart fires once the telephony start frame supplies the call SID;
	// OnClose fires on teardown. Both are invoked from the session's own
	// goroutine.
	OnStart func(callSID string, s *Session)
	OnClose func(callSID string)
}

// Session is the single logical owner of one call's mutable state. All
// fields below the mutex-free line are touched only by the run loop
// goroutine; socket readers communicate with it exclusively through the
// event channel.
type Session struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	rec     *transcript.Recorder
	agents  AgentConnector
	caller  Socket
	traceID string

	onStart func(string, *Session)
	onClose func(string)

	events chan sessionEvent
	done   chan struct{}
	ended  sync.Once

	setupCancel context.CancelFunc

	// run-loop-owned state.
	state           State
	streamSID       string
	callSID         string
	calledNumber    string
	agent           Socket
	agentOpen       bool
	pendingToAgent  [][]byte
	pendingToCaller []string
	dropWarned      bool
}

func NewSession(p SessionParams) *Session {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Metrics == nil {
		p.Metrics = metrics.New()
	}
	if p.Recorder == nil {
		p.Recorder = transcript.NewRecorder(nil, p.Config.TranscriptKeyPrefix, p.Logger)
	}
	return &Session{
		cfg:          p.Config.withDefaults(),
		logger:       p.Logger.With(slog.String("trace_id", p.TraceID)),
		metrics:      p.Metrics,
		rec:          p.Recorder,
		agents:       p.Agents,
		caller:       p.Caller,
		traceID:      p.TraceID,
		calledNumber: p.CalledNumber,
		onStart:      p.OnStart,
		onClose:      p.OnClose,
		events:       make(chan sessionEvent, 256),
		done:         make(chan struct{}),
		state:        StateConnecting,
	}
}

// Run drives the call until teardown. It blocks; the caller socket is
// closed by the session's own teardown, never by the caller.
func (s *Session) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	setupCtx, cancel := context.WithTimeout(ctx, s.cfg.agentSetupTimeout())
	s.setupCancel = cancel
	if s.agents != nil {
		go s.connectAgent(setupCtx)
	}
	go s.readCaller()
	s.loop()
}

// State reports the current lifecycle phase. Intended for tests and
// observability; the run loop is the only writer.
func (s *Session) State() State {
	select {
	case <-s.done:
		return StateClosed
	default:
		return s.state
	}
}

// Done is closed once the session reaches its terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// ExternalEnd requests teardown from outside the two sockets, e.g. a
// telephony status callback reporting the call completed.
func (s *Session) ExternalEnd(reason string) {
	s.post(sessionEvent{kind: evExternalEnd, reason: reason})
}

func (s *Session) post(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
		if ev.sock != nil {
			_ = ev.sock.Close()
		}
	}
}

func (s *Session) readCaller() {
	for {
		_, data, err := s.caller.ReadMessage()
		if err != nil {
			s.post(sessionEvent{kind: evCallerClosed, reason: "transport_closed"})
			return
		}
		s.post(sessionEvent{kind: evCallerFrame, data: data})
	}
}

func (s *Session) connectAgent(ctx context.Context) {
	sock, prompt, err := s.agents.Connect(ctx)
	if err != nil {
		s.post(sessionEvent{kind: evAgentSetupErr, err: err})
		return
	}
	s.post(sessionEvent{kind: evAgentReady, sock: sock, prompt: prompt})
}

func (s *Session) readAgent(sock Socket) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			s.post(sessionEvent{kind: evAgentClosed, err: err})
			return
		}
		s.post(sessionEvent{kind: evAgentFrame, data: data})
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.events:
			s.dispatch(ev)
			if s.state == StateClosed {
				return
			}
		}
	}
}

// dispatch handles one event. A panic in a handler is converted into an
// error transcript event; only the state machine's own transitions may
// close sockets.
func (s *Session) dispatch(ev sessionEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session handler panic",
				slog.String("call_sid", s.callSID),
				slog.Any("panic", r))
			s.rec.Append(transcript.SpeakerSystem, transcript.KindError,
				fmt.Sprintf("handler panic: %v", r), 0, "")
		}
	}()
	switch ev.kind {
	case evCallerFrame:
		s.handleCallerFrame(ev.data)
	case evCallerClosed:
		s.handleCallerClosed(ev.reason)
	case evAgentReady:
		s.handleAgentReady(ev.sock, ev.prompt)
	case evAgentSetupErr:
		s.handleAgentSetupErr(ev.err)
	case evAgentFrame:
		s.handleAgentFrame(ev.data)
	case evAgentClosed:
		s.handleAgentClosed(ev.err)
	case evExternalEnd:
		s.handleExternalEnd(ev.reason)
	}
}

func (s *Session) handleCallerFrame(data []byte) {
	evt, err := wire.ParseCallerEvent(data)
	if err != nil {
		s.recordTranslateError("telephony frame not parseable", err)
		return
	}
	switch evt.Event {
	case "start":
		s.handleStart(evt)
	case "media":
		s.handleCallerMedia(evt.Media)
	case "stop":
		reason := "completed"
		if evt.Stop != nil && evt.Stop.Reason != "" {
			reason = evt.Stop.Reason
		}
		s.endCall(reason)
	case "mark", "connected":
		// Playback marks and the initial connected handshake carry no
		// information the bridge acts on.
	default:
		s.rec.Append(transcript.SpeakerSystem, transcript.KindUnhandled,
			"unhandled telephony event: "+evt.Event, 0, "")
	}
}

func (s *Session) handleStart(evt wire.CallerEvent) {
	if evt.Start == nil {
		s.rec.Append(transcript.SpeakerSystem, transcript.KindError,
			"start frame without identifiers", 0, "")
		return
	}
	s.streamSID = evt.Start.StreamSID
	if s.streamSID == "" {
		s.streamSID = evt.StreamSID
	}
	s.callSID = evt.Start.CallSID
	if s.calledNumber == "" {
		for _, key := range []string{"called_number", "calledNumber", "to"} {
			if v := evt.Start.CustomParameters[key]; v != "" {
				s.calledNumber = v
				break
			}
		}
	}
	info, _ := json.Marshal(map[string]string{
		"streamSid": s.streamSID,
		"callSid":   s.callSID,
	})
	s.rec.Append(transcript.SpeakerSystem, transcript.KindCallStart,
		"call started", 0, string(info))
	s.logger.Info("telephony stream started",
		slog.String("stream_sid", s.streamSID),
		slog.String("call_sid", s.callSID))
	if s.onStart != nil {
		s.onStart(s.callSID, s)
	}
	if s.agentOpen {
		s.transitionTo(StateActive)
	}
	s.flushPendingToCaller()
}

func (s *Session) handleCallerMedia(media *wire.CallerMedia) {
	frame, size, err := wire.CallerAudioToAgent(media)
	if err != nil {
		s.recordTranslateError("caller media not decodable", err)
		return
	}
	s.rec.Append(transcript.SpeakerUser, transcript.KindAudioInput,
		"caller audio received", size, "")
	if s.agentOpen {
		if s.writeAgent(frame) {
			s.metrics.CallerFramesRelayed.Inc()
		}
		return
	}
	// Agent still connecting. Keep the earliest chunks so the agent hears
	// the start of the utterance; drop the rest, a short gap is inaudible.
	if len(s.pendingToAgent) < s.cfg.CallerBufferChunks {
		s.pendingToAgent = append(s.pendingToAgent, frame)
	} else {
		s.metrics.FramesDropped.Inc()
	}
}

func (s *Session) handleCallerClosed(reason string) {
	s.endCall(reason)
}

func (s *Session) handleExternalEnd(reason string) {
	s.endCall(reason)
}

func (s *Session) handleAgentReady(sock Socket, prompt string) {
	init, err := wire.ConversationInitiation(prompt, s.calledNumber)
	if err == nil {
		err = sock.WriteMessage(textMessage, init)
	}
	if err != nil {
		_ = sock.Close()
		s.metrics.AgentSetupFailures.Inc()
		s.rec.Append(transcript.SpeakerSystem, transcript.KindError,
			"agent initiation failed: "+err.Error(), 0, "")
		return
	}
	s.agent = sock
	s.agentOpen = true
	s.rec.Append(transcript.SpeakerSystem, transcript.KindInitialization,
		"agent session initialized", len(prompt), "")
	s.logger.Info("agent socket open",
		slog.String("call_sid", s.callSID),
		slog.Int("prompt_bytes", len(prompt)))
	if s.streamSID != "" {
		s.transitionTo(StateActive)
	}
	for _, frame := range s.pendingToAgent {
		if !s.writeAgent(frame) {
			break
		}
		s.metrics.CallerFramesRelayed.Inc()
	}
	s.pendingToAgent = nil
	go s.readAgent(sock)
}

func (s *Session) handleAgentSetupErr(err error) {
	s.metrics.AgentSetupFailures.Inc()
	s.rec.Append(transcript.SpeakerSystem, transcript.KindError,
		"agent setup failed: "+err.Error(), 0, "")
	s.logger.Warn("agent setup failed, continuing telephony-only",
		slog.String("call_sid", s.callSID),
		slog.String("error", err.Error()))
	s.pendingToAgent = nil
}

func (s *Session) handleAgentFrame(data []byte) {
	msg, err := wire.ParseAgentMessage(data)
	if err != nil {
		s.recordTranslateError("agent message not parseable", err)
		return
	}
	if chunk, ok := msg.AudioChunk(); ok {
		s.handleAgentAudio(chunk)
		return
	}
	switch msg.Type {
	case wire.AgentTypeInterruption:
		if s.streamSID == "" {
			return
		}
		frame, err := wire.InterruptionToClear(s.streamSID)
		if err == nil {
			s.writeCaller(frame)
		}
	case wire.AgentTypePing:
		var eventID json.RawMessage
		if msg.PingEvent != nil {
			eventID = msg.PingEvent.EventID
		}
		pong, err := wire.PongFor(eventID)
		if err == nil {
			s.writeAgent(pong)
		}
	case wire.AgentTypeInitiationMetadata:
		s.rec.Append(transcript.SpeakerSystem, transcript.KindUnhandled,
			"conversation initiation metadata", len(data), "")
	case wire.AgentTypeAudio:
		// Audio-typed message without a payload in either field.
		s.recordTranslateError("agent audio frame without payload", nil)
	default:
		s.rec.Append(transcript.SpeakerSystem, transcript.KindUnhandled,
			"unhandled agent message: "+msg.Type, len(data), "")
	}
}

func (s *Session) handleAgentAudio(chunk string) {
	if s.streamSID == "" {
		// Agent setup won the race against the telephony start frame.
		// Hold the audio; it is flushed once identifiers arrive.
		size, err := wire.AudioChunkSize(chunk)
		if err != nil {
			s.recordTranslateError("agent audio not decodable", err)
			return
		}
		if len(s.pendingToCaller) >= s.cfg.AgentBufferFrames {
			s.pendingToCaller = s.pendingToCaller[1:]
			s.metrics.FramesDropped.Inc()
			if !s.dropWarned {
				s.dropWarned = true
				s.rec.Append(transcript.SpeakerSystem, transcript.KindError,
					"agent audio buffer overflow, oldest frame dropped", 0, "")
			}
		}
		s.pendingToCaller = append(s.pendingToCaller, chunk)
		s.rec.Append(transcript.SpeakerBot, transcript.KindAudioResponse,
			"agent audio buffered", size, "awaiting stream start")
		return
	}
	frame, size, err := wire.AgentAudioToCaller(s.streamSID, chunk)
	if err != nil {
		s.recordTranslateError("agent audio not decodable", err)
		return
	}
	s.rec.Append(transcript.SpeakerBot, transcript.KindAudioResponse,
		"agent audio received", size, "")
	if s.writeCaller(frame) {
		s.metrics.AgentFramesRelayed.Inc()
	}
}

func (s *Session) handleAgentClosed(err error) {
	if s.state == StateDraining || s.state == StateClosed {
		return
	}
	s.agent = nil
	s.agentOpen = false
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	// Agent loss is not fatal to the phone call: the session keeps
	// relaying telephony frames (unforwarded) until the caller hangs up.
	s.rec.Append(transcript.SpeakerSystem, transcript.KindError,
		"agent socket closed", 0, detail)
	s.logger.Warn("agent socket closed, call continues without agent audio",
		slog.String("call_sid", s.callSID),
		slog.String("error", detail))
}

// flushPendingToCaller forwards agent audio held back while the stream
// identifier was unknown. The slice is cleared, so a racing second flush
// cannot forward a frame twice.
func (s *Session) flushPendingToCaller() {
	if len(s.pendingToCaller) == 0 {
		return
	}
	pending := s.pendingToCaller
	s.pendingToCaller = nil
	for _, chunk := range pending {
		frame, _, err := wire.AgentAudioToCaller(s.streamSID, chunk)
		if err != nil {
			s.recordTranslateError("buffered agent audio not decodable", err)
			continue
		}
		if !s.writeCaller(frame) {
			return
		}
		s.metrics.AgentFramesRelayed.Inc()
	}
}

func (s *Session) writeCaller(frame []byte) bool {
	if err := s.caller.WriteMessage(textMessage, frame); err != nil {
		s.rec.Append(transcript.SpeakerSystem, transcript.KindError,
			"telephony write failed: "+err.Error(), 0, "")
		// Telephony-side failure is authoritative: end the call.
		s.endCall("transport_write_failed")
		return false
	}
	return true
}

func (s *Session) writeAgent(frame []byte) bool {
	if s.agent == nil {
		return false
	}
	if err := s.agent.WriteMessage(textMessage, frame); err != nil {
		_ = s.agent.Close()
		s.agent = nil
		s.agentOpen = false
		s.rec.Append(transcript.SpeakerSystem, transcript.KindError,
			"agent write failed: "+err.Error(), 0, "")
		return false
	}
	return true
}

// endCall is the single idempotent teardown path. Safe against concurrent
// triggers (telephony stop racing an external end): the first wins, the
// rest are no-ops.
func (s *Session) endCall(reason string) {
	s.ended.Do(func() {
		s.transitionTo(StateDraining)
		s.rec.Append(transcript.SpeakerSystem, transcript.KindCallEnd,
			"call ended", 0, reason)
		if s.setupCancel != nil {
			s.setupCancel()
		}
		if s.agent != nil {
			_ = s.agent.Close()
			s.agent = nil
			s.agentOpen = false
		}
		_ = s.caller.Close()

		callSID := s.callSID
		rec := s.rec
		m := s.metrics
		// Detached upload: the call is over, persistence is best effort
		// and must not block teardown.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := rec.Finalize(ctx, callSID); err != nil {
				m.TranscriptUploadFailures.Inc()
			} else {
				m.TranscriptUploads.Inc()
			}
		}()

		s.metrics.CallsCompleted.Inc()
		if s.onClose != nil {
			s.onClose(callSID)
		}
		s.logger.Info("call torn down",
			slog.String("call_sid", callSID),
			slog.String("reason", reason))
		s.transitionTo(StateClosed)
		close(s.done)
	})
}

func (s *Session) transitionTo(next State) {
	if s.state == next {
		return
	}
	if !transitionValid(s.state, next) {
		s.logger.Warn("invalid state transition ignored",
			slog.String("from", s.state.String()),
			slog.String("to", next.String()))
		return
	}
	s.state = next
}

func (s *Session) recordTranslateError(summary string, err error) {
	s.metrics.TranslateErrors.Inc()
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	s.rec.Append(transcript.SpeakerSystem, transcript.KindError, summary, 0, detail)
}
