package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/harunnryd/sambung/pkg/errorsx"
	"github.com/harunnryd/sambung/pkg/metrics"
	"github.com/harunnryd/sambung/pkg/transcript"
)

// Supervisor accepts telephony media-stream connections and runs one
// Session per call. Sessions share nothing but the supervisor's registry.
type Supervisor struct {
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
	agents   AgentConnector
	uploader transcript.Uploader
	upgrader websocket.Upgrader
	server   *http.Server

	mu       sync.Mutex
	sessions map[string]*Session

	draining atomic.Bool
}

func NewSupervisor(cfg Config, agents AgentConnector, uploader transcript.Uploader, m *metrics.Metrics, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Supervisor{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		metrics:  m,
		agents:   agents,
		uploader: uploader,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
}

// Metrics returns the supervisor's metrics instance.
func (sv *Supervisor) Metrics() *metrics.Metrics { return sv.metrics }

// VoiceWebhookURL is the address the telephony provider must call to
// connect a call to this bridge.
func (sv *Supervisor) VoiceWebhookURL() string {
	if sv.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(sv.cfg.PublicURL) + sv.cfg.VoicePath
	}
	addr := sv.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + sv.cfg.VoicePath
}

func (sv *Supervisor) statusCallbackURL() string {
	if sv.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(sv.cfg.PublicURL) + sv.cfg.StatusCallbackPath
	}
	addr := sv.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + sv.cfg.StatusCallbackPath
}

// Start runs the HTTP server until ctx is cancelled.
func (sv *Supervisor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(sv.cfg.VoicePath, sv.handleVoice)
	mux.Handle(sv.cfg.WebsocketPath, sv)
	mux.HandleFunc(sv.cfg.StatusCallbackPath, sv.handleStatusCallback)
	mux.Handle(sv.cfg.MetricsPath, sv.metrics.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	sv.server = &http.Server{
		Addr:              sv.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = sv.server.Close()
	}()
	go func() {
		if err := sv.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sv.logger.Error("bridge server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Stop refuses new connections and ends live sessions.
func (sv *Supervisor) Stop() error {
	sv.draining.Store(true)
	if sv.server != nil {
		_ = sv.server.Close()
	}
	sv.mu.Lock()
	live := make([]*Session, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		live = append(live, s)
	}
	sv.mu.Unlock()
	for _, s := range live {
		s.ExternalEnd("shutdown")
	}
	return nil
}

// Drain implements the runner's drain hook.
func (sv *Supervisor) Drain() error { return sv.Stop() }

// SessionCount reports the number of registered live sessions.
func (sv *Supervisor) SessionCount() int {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return len(sv.sessions)
}

// ServeHTTP upgrades a telephony media-stream connection and runs its
// session to completion.
func (sv *Supervisor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if sv.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := sv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	traceID := uuid.NewString()
	calledNumber := r.URL.Query().Get("called")
	rec := transcript.NewRecorder(sv.uploader, sv.cfg.TranscriptKeyPrefix, sv.logger)
	sess := NewSession(SessionParams{
		Config:       sv.cfg,
		Caller:       conn,
		Agents:       sv.agents,
		Recorder:     rec,
		Metrics:      sv.metrics,
		Logger:       sv.logger,
		TraceID:      traceID,
		CalledNumber: calledNumber,
		OnStart:      sv.register,
		OnClose:      sv.unregister,
	})
	sv.metrics.CallsStarted.Inc()
	sv.metrics.ActiveCalls.Inc()
	sess.Run(r.Context())
	sv.metrics.ActiveCalls.Dec()
}

func (sv *Supervisor) register(callSID string, s *Session) {
	if callSID == "" {
		return
	}
	sv.mu.Lock()
	old := sv.sessions[callSID]
	sv.sessions[callSID] = s
	sv.mu.Unlock()
	if old != nil && old != s {
		// A reconnect for the same call supersedes the previous stream.
		old.ExternalEnd("superseded")
	}
}

func (sv *Supervisor) unregister(callSID string) {
	if callSID == "" {
		return
	}
	sv.mu.Lock()
	delete(sv.sessions, callSID)
	sv.mu.Unlock()
}

func (sv *Supervisor) sessionFor(callSID string) *Session {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.sessions[callSID]
}

// handleVoice answers the telephony provider's webhook with TwiML that
// connects the call's media stream to this bridge. The called number is
// passed through as a stream parameter so the session can hand it to the
// agent as dynamic context.
func (sv *Supervisor) handleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if sv.cfg.AuthToken != "" && !sv.validateRequest(r) {
		sv.logger.Warn("invalid telephony webhook signature",
			slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	wsURL := sv.websocketURL(r)
	var b strings.Builder
	b.WriteString(`<Response><Connect><Stream url="` + wsURL + `">`)
	if to := strings.TrimSpace(r.FormValue("To")); to != "" {
		b.WriteString(`<Parameter name="called_number" value="` + xmlEscape(to) + `"/>`)
	}
	b.WriteString(`</Stream></Connect></Response>`)
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(b.String()))
}

// handleStatusCallback ends a session when the telephony provider reports
// the call finished out-of-band of the media stream.
func (sv *Supervisor) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if sv.cfg.AuthToken != "" && !sv.validateRequest(r) {
		sv.logger.Warn("invalid status callback signature",
			slog.String("reason_code", string(errorsx.ReasonTransportInvalidSignature)))
		w.WriteHeader(http.StatusForbidden)
		return
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	callSID := r.FormValue("CallSid")
	reason := normalizeCallEndReason(r.FormValue("CallStatus"))
	if callSID == "" || reason == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if s := sv.sessionFor(callSID); s != nil {
		s.ExternalEnd(reason)
	}
	w.WriteHeader(http.StatusOK)
}

func (sv *Supervisor) websocketURL(r *http.Request) string {
	if sv.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(sv.cfg.PublicURL) + sv.cfg.WebsocketPath
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(sv.cfg.ServerAddr, ":")
	}
	return "wss://" + host + sv.cfg.WebsocketPath
}

func (sv *Supervisor) validateRequest(r *http.Request) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || sv.cfg.AuthToken == "" {
		return false
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return false
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	validator := twilioclient.NewRequestValidator(sv.cfg.AuthToken)
	reqURL := sv.requestURL(r)
	if r.URL.Query().Get("bodySHA256") != "" {
		return validator.ValidateBody(reqURL, body, signature)
	}
	// Form posts are signed over the URL plus the sorted form parameters.
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return false
	}
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return validator.Validate(reqURL, params, signature)
}

func (sv *Supervisor) requestURL(r *http.Request) string {
	if sv.cfg.PublicURL != "" {
		base := strings.TrimRight(sv.cfg.PublicURL, "/")
		return base + r.URL.RequestURI()
	}
	scheme := r.URL.Scheme
	if scheme == "" {
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			scheme = "https"
		}
	}
	host := r.Host
	if host == "" {
		host = strings.TrimPrefix(sv.cfg.ServerAddr, ":")
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

func xmlEscape(in string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(in)
}

func normalizePublicURL(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}

func normalizeCallEndReason(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "queued", "ringing", "in-progress", "inprogress":
		return ""
	case "completed", "hangup":
		return "completed"
	case "busy":
		return "busy"
	case "no_answer", "noanswer", "no-answer":
		return "no_answer"
	case "failed", "error", "canceled", "cancelled":
		return "failed"
	default:
		return "unknown"
	}
}
