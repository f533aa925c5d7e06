package bridge

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/sambung/pkg/metrics"
	"github.com/harunnryd/sambung/pkg/transcript"
)

func computeSignature(token, reqURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(reqURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postForm(t *testing.T, path string, params map[string]string) *http.Request {
	t.Helper()
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestVoiceWebhookReturnsStreamTwiML(t *testing.T) {
	sv := NewSupervisor(Config{PublicURL: "https://bridge.example.com"}, nil, nil, metrics.New(), nil)

	req := postForm(t, "/voice", map[string]string{"To": "+62811", "From": "+13125550100"})
	w := httptest.NewRecorder()
	sv.handleVoice(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/xml" {
		t.Fatalf("expected text/xml, got %q", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, `<Stream url="wss://bridge.example.com/ws">`) {
		t.Fatalf("missing stream url in %q", body)
	}
	if !strings.Contains(body, `<Parameter name="called_number" value="+62811"/>`) {
		t.Fatalf("missing called_number parameter in %q", body)
	}
}

func TestVoiceWebhookEscapesCalledNumber(t *testing.T) {
	sv := NewSupervisor(Config{PublicURL: "https://bridge.example.com"}, nil, nil, metrics.New(), nil)

	req := postForm(t, "/voice", map[string]string{"To": `+62"<811>`})
	w := httptest.NewRecorder()
	sv.handleVoice(w, req)

	body := w.Body.String()
	if strings.Contains(body, `value="+62"<811>"`) {
		t.Fatalf("called number not escaped: %q", body)
	}
	if !strings.Contains(body, "&quot;") || !strings.Contains(body, "&lt;") {
		t.Fatalf("expected xml escapes in %q", body)
	}
}

func TestVoiceWebhookSignatureValidation(t *testing.T) {
	const token = "secret-token"
	sv := NewSupervisor(Config{PublicURL: "https://bridge.example.com", AuthToken: token}, nil, nil, metrics.New(), nil)
	params := map[string]string{"To": "+62811", "CallSid": "CA100"}

	req := postForm(t, "/voice", params)
	w := httptest.NewRecorder()
	sv.handleVoice(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("unsigned request should be rejected, got %d", w.Code)
	}

	req = postForm(t, "/voice", params)
	req.Header.Set("X-Twilio-Signature", computeSignature(token, "https://bridge.example.com/voice", params))
	w = httptest.NewRecorder()
	sv.handleVoice(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("signed request should pass, got %d", w.Code)
	}

	req = postForm(t, "/voice", params)
	req.Header.Set("X-Twilio-Signature", computeSignature("wrong-token", "https://bridge.example.com/voice", params))
	w = httptest.NewRecorder()
	sv.handleVoice(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("badly signed request should be rejected, got %d", w.Code)
	}
}

func TestStatusCallbackEndsRegisteredSession(t *testing.T) {
	sv := NewSupervisor(Config{}, nil, nil, metrics.New(), nil)

	caller := newFakeSocket()
	sess := NewSession(SessionParams{
		Config:   Config{},
		Caller:   caller,
		Recorder: transcript.NewRecorder(nil, "", nil),
		Metrics:  sv.Metrics(),
		OnClose:  sv.unregister,
	})
	go sess.Run(context.Background())
	sv.register("CA200", sess)

	req := postForm(t, "/status", map[string]string{"CallSid": "CA200", "CallStatus": "completed"})
	w := httptest.NewRecorder()
	sv.handleStatusCallback(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("status callback did not end the session")
	}
	waitFor(t, "session unregistered", func() bool { return sv.SessionCount() == 0 })
}

func TestStatusCallbackIgnoresNonTerminalStates(t *testing.T) {
	sv := NewSupervisor(Config{}, nil, nil, metrics.New(), nil)

	caller := newFakeSocket()
	sess := NewSession(SessionParams{
		Config:   Config{},
		Caller:   caller,
		Recorder: transcript.NewRecorder(nil, "", nil),
		Metrics:  sv.Metrics(),
	})
	go sess.Run(context.Background())
	sv.register("CA300", sess)

	req := postForm(t, "/status", map[string]string{"CallSid": "CA300", "CallStatus": "in-progress"})
	w := httptest.NewRecorder()
	sv.handleStatusCallback(w, req)

	select {
	case <-sess.Done():
		t.Fatalf("in-progress status must not end the session")
	case <-time.After(100 * time.Millisecond):
	}
	sess.ExternalEnd("test done")
	<-sess.Done()
}

func TestNormalizeCallEndReason(t *testing.T) {
	cases := map[string]string{
		"completed":   "completed",
		"Completed":   "completed",
		"busy":        "busy",
		"no-answer":   "no_answer",
		"failed":      "failed",
		"canceled":    "failed",
		"in-progress": "",
		"ringing":     "",
		"":            "",
		"odd-state":   "unknown",
	}
	for raw, want := range cases {
		if got := normalizeCallEndReason(raw); got != want {
			t.Errorf("normalizeCallEndReason(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestMediaStreamEndToEnd(t *testing.T) {
	sink := &memSink{}
	agentSock := newFakeSocket()
	sv := NewSupervisor(Config{}, &fakeConnector{sock: agentSock, prompt: "hello"}, sink, metrics.New(), nil)

	srv := httptest.NewServer(sv)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	err = conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"start","start":{"streamSid":"S9","callSid":"CA900"}}`))
	if err != nil {
		t.Fatalf("write start: %v", err)
	}
	waitFor(t, "session registered", func() bool { return sv.SessionCount() == 1 })
	waitFor(t, "agent initiated", func() bool { return len(agentSock.Written()) >= 1 })

	agentSock.push(t, []byte(`{"type":"audio","audio":{"chunk":"`+b64("hi there")+`"}}`))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read relayed frame: %v", err)
	}
	if !strings.Contains(string(frame), `"event":"media"`) || !strings.Contains(string(frame), `"streamSid":"S9"`) {
		t.Fatalf("unexpected relayed frame %s", frame)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"stop"}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}
	waitFor(t, "transcript uploaded", func() bool { return sink.Calls() == 1 })
	waitFor(t, "session unregistered", func() bool { return sv.SessionCount() == 0 })
}

func TestDrainingSupervisorRefusesUpgrades(t *testing.T) {
	sv := NewSupervisor(Config{}, nil, nil, metrics.New(), nil)
	_ = sv.Stop()

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()
	sv.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 while draining, got %d", w.Code)
	}
}
