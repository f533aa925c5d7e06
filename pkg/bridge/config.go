package bridge

import "time"

type Config struct {
	ServerAddr         string `mapstructure:"server_addr"`
	PublicURL          string `mapstructure:"public_url"`
	AccountSID         string `mapstructure:"account_sid"`
	AuthToken          string `mapstructure:"auth_token"`
	FromNumber         string `mapstructure:"from_number"`
	VoicePath          string `mapstructure:"voice_path"`
	WebsocketPath      string `mapstructure:"ws_path"`
	StatusCallbackPath string `mapstructure:"status_callback_path"`
	MetricsPath        string `mapstructure:"metrics_path"`

	// AgentSetupTimeoutMS bounds prompt fetch, signed-URL fetch and the
	// agent socket dial together; expiry degrades the call to
	// telephony-only instead of leaving the session connecting forever.
	AgentSetupTimeoutMS int `mapstructure:"agent_setup_timeout_ms"`

	// CallerBufferChunks caps caller audio held while the agent socket is
	// still connecting. Telephony media is continuous, so overflow drops
	// are inaudible.
	CallerBufferChunks int `mapstructure:"caller_buffer_chunks"`

	// AgentBufferFrames caps agent audio held while the telephony start
	// frame has not yet supplied a stream identifier.
	AgentBufferFrames int `mapstructure:"agent_buffer_frames"`

	TranscriptKeyPrefix string `mapstructure:"transcript_key_prefix"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.AgentSetupTimeoutMS <= 0 {
		c.AgentSetupTimeoutMS = 15000
	}
	if c.CallerBufferChunks <= 0 {
		c.CallerBufferChunks = 8
	}
	if c.AgentBufferFrames <= 0 {
		c.AgentBufferFrames = 32
	}
	if c.TranscriptKeyPrefix == "" {
		c.TranscriptKeyPrefix = "transcripts/"
	}
	return c
}

func (c Config) agentSetupTimeout() time.Duration {
	return time.Duration(c.AgentSetupTimeoutMS) * time.Millisecond
}
