package bridge

import (
	"context"
	"errors"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/sambung/pkg/errorsx"
)

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// Dialer places outbound calls that land on the bridge's voice webhook.
type Dialer struct {
	cfg    Config
	client callCreator
}

func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg.withDefaults()}
}

// PlaceCall dials the destination number from the configured caller ID and
// points the call at this bridge. Returns the provider's call SID.
func (d *Dialer) PlaceCall(ctx context.Context, to string) (string, error) {
	_ = ctx
	if to == "" {
		return "", errorsx.Wrap(errors.New("destination number required"), errorsx.ReasonDial)
	}
	if d.cfg.FromNumber == "" {
		return "", errorsx.Wrap(errors.New("from number required"), errorsx.ReasonDial)
	}
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return "", errorsx.Wrap(errors.New("missing telephony credentials"), errorsx.ReasonDial)
	}
	client := d.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: d.cfg.AccountSID,
			Password: d.cfg.AuthToken,
		})
		client = rest.Api
	}
	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(d.cfg.FromNumber)
	params.SetUrl(d.voiceWebhookURL())
	if d.cfg.PublicURL != "" {
		params.SetStatusCallback("https://" + normalizePublicURL(d.cfg.PublicURL) + d.cfg.StatusCallbackPath)
	}
	resp, err := client.CreateCall(params)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonDial)
	}
	if resp == nil || resp.Sid == nil {
		return "", errorsx.Wrap(errors.New("missing call sid"), errorsx.ReasonDial)
	}
	return *resp.Sid, nil
}

func (d *Dialer) voiceWebhookURL() string {
	if d.cfg.PublicURL != "" {
		return "https://" + normalizePublicURL(d.cfg.PublicURL) + d.cfg.VoicePath
	}
	addr := d.cfg.ServerAddr
	if addr != "" && addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + d.cfg.VoicePath
}
