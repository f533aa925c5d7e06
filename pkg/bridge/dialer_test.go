package bridge

import (
	"context"
	"errors"
	"testing"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/sambung/pkg/errorsx"
)

type stubCreator struct {
	params *api.CreateCallParams
	sid    string
	err    error
}

func (s *stubCreator) CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error) {
	s.params = params
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Call{Sid: &s.sid}, nil
}

func dialerConfig() Config {
	return Config{
		AccountSID: "AC123",
		AuthToken:  "token",
		FromNumber: "+13125550100",
		PublicURL:  "https://bridge.example.com",
	}
}

func TestPlaceCallPointsAtVoiceWebhook(t *testing.T) {
	stub := &stubCreator{sid: "CA42"}
	d := &Dialer{cfg: dialerConfig().withDefaults(), client: stub}

	sid, err := d.PlaceCall(context.Background(), "+62811")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sid != "CA42" {
		t.Fatalf("expected CA42, got %q", sid)
	}
	if stub.params == nil {
		t.Fatalf("no call placed")
	}
	if got := *stub.params.To; got != "+62811" {
		t.Fatalf("to = %q", got)
	}
	if got := *stub.params.From; got != "+13125550100" {
		t.Fatalf("from = %q", got)
	}
	if got := *stub.params.Url; got != "https://bridge.example.com/voice" {
		t.Fatalf("url = %q", got)
	}
	if got := *stub.params.StatusCallback; got != "https://bridge.example.com/status" {
		t.Fatalf("status callback = %q", got)
	}
}

func TestPlaceCallValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		to   string
	}{
		{"missing destination", dialerConfig(), ""},
		{"missing caller id", Config{AccountSID: "AC1", AuthToken: "t"}, "+62811"},
		{"missing credentials", Config{FromNumber: "+13125550100"}, "+62811"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &Dialer{cfg: tc.cfg.withDefaults(), client: &stubCreator{sid: "CA1"}}
			_, err := d.PlaceCall(context.Background(), tc.to)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errorsx.HasReason(err, errorsx.ReasonDial) {
				t.Fatalf("expected dial reason, got %v", err)
			}
		})
	}
}

func TestPlaceCallProviderError(t *testing.T) {
	stub := &stubCreator{err: errors.New("rate limited")}
	d := &Dialer{cfg: dialerConfig().withDefaults(), client: stub}
	_, err := d.PlaceCall(context.Background(), "+62811")
	if !errorsx.HasReason(err, errorsx.ReasonDial) {
		t.Fatalf("expected dial reason, got %v", err)
	}
}
