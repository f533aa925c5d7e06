package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/harunnryd/sambung/pkg/agent"
	"github.com/harunnryd/sambung/pkg/errorsx"
	"github.com/harunnryd/sambung/pkg/resilience"
)

// agentConnector runs the agent-side setup sequence against the real
// provider client: prompt, signed URL, socket dial. A shared breaker keeps
// a dead provider from adding setup latency to every incoming call; calls
// placed while it is open simply run telephony-only.
type agentConnector struct {
	client  *agent.Client
	breaker *resilience.Breaker
}

// NewAgentConnector adapts a provider client to the session's connector
// interface.
func NewAgentConnector(client *agent.Client) AgentConnector {
	return &agentConnector{
		client:  client,
		breaker: resilience.NewBreaker(3, 30*time.Second),
	}
}

func (c *agentConnector) Connect(ctx context.Context) (Socket, string, error) {
	if !c.breaker.Allow() {
		return nil, "", errorsx.Wrap(errors.New("agent temporarily unavailable"), errorsx.ReasonAgentConnect)
	}
	prompt, err := c.client.Prompt(ctx)
	if err != nil {
		c.breaker.OnFailure()
		return nil, "", err
	}
	signedURL, err := c.client.SignedURL(ctx)
	if err != nil {
		c.breaker.OnFailure()
		return nil, "", err
	}
	conn, err := c.client.Dial(ctx, signedURL)
	if err != nil {
		c.breaker.OnFailure()
		return nil, "", err
	}
	c.breaker.OnSuccess()
	return conn, prompt, nil
}
