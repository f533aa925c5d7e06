package sambung

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/sambung/pkg/agent"
	"github.com/harunnryd/sambung/pkg/bridge"
	"github.com/harunnryd/sambung/pkg/logging"
	"github.com/harunnryd/sambung/pkg/metrics"
	"github.com/harunnryd/sambung/pkg/redact"
	"github.com/harunnryd/sambung/pkg/runner"
	"github.com/harunnryd/sambung/pkg/transcript"
)

// App is one assembled bridge process.
type App struct {
	cfg        Config
	logger     *slog.Logger
	metrics    *metrics.Metrics
	supervisor *bridge.Supervisor
	dialer     *bridge.Dialer
	lifecycle  *runner.LifecycleRunner
}

func New(cfg Config) (*App, error) {
	base := logging.Init(cfg.LogLevel, cfg.LogFormat)
	logger := logging.NewComponentLogger(base, "sambung")
	redact.SetEnabled(cfg.Privacy.RedactPII)
	m := metrics.New()

	var uploader transcript.Uploader
	if cfg.Storage.Bucket != "" {
		up, err := transcript.NewS3Uploader(cfg.Storage.Region, cfg.Storage.Bucket)
		if err != nil {
			return nil, fmt.Errorf("storage sink: %w", err)
		}
		uploader = up
	} else {
		logger.Warn("no transcript bucket configured, artifacts will be discarded")
	}

	client := agent.New(agent.Config{
		APIKey:      cfg.Agent.APIKey,
		AgentID:     cfg.Agent.AgentID,
		BaseURL:     cfg.Agent.BaseURL,
		PromptURL:   cfg.Agent.PromptURL,
		BasePrompt:  cfg.Agent.BasePrompt,
		HTTPTimeout: cfg.Agent.httpTimeout(),
		DialTimeout: cfg.Agent.dialTimeout(),
	})
	connector := bridge.NewAgentConnector(client)
	sv := bridge.NewSupervisor(cfg.Bridge, connector, uploader,
		m, logging.NewComponentLogger(base, "bridge"))

	app := &App{
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		supervisor: sv,
		dialer:     bridge.NewDialer(cfg.Bridge),
	}
	app.lifecycle = runner.NewLifecycleRunner(sv, runner.Hooks{
		OnStart: func() {
			logger.Info("bridge listening",
				slog.String("addr", cfg.Bridge.ServerAddr),
				slog.String("environment", cfg.Environment),
				slog.String("voice_webhook", sv.VoiceWebhookURL()))
		},
		OnStop: func() {
			logger.Info("bridge stopped")
		},
	}, 15*time.Second)
	return app, nil
}

// Run starts the HTTP server and blocks until a shutdown signal or ctx
// cancellation, draining live calls before returning.
func (a *App) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.supervisor.Start(ctx); err != nil {
		return err
	}
	return a.lifecycle.RunUntilSignal(ctx)
}

// Stop ends the process lifecycle, draining live calls.
func (a *App) Stop() error { return a.lifecycle.Stop() }

func (a *App) Supervisor() *bridge.Supervisor { return a.supervisor }

// Dialer places outbound calls that land on this bridge.
func (a *App) Dialer() *bridge.Dialer { return a.dialer }
