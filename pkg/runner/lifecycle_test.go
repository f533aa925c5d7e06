package runner

import (
	"context"
	"testing"
	"time"
)

type slowDrainer struct {
	delay   time.Duration
	drained chan struct{}
}

func (d *slowDrainer) Drain() error {
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	close(d.drained)
	return nil
}

func TestRunDrainsOnCancel(t *testing.T) {
	d := &slowDrainer{drained: make(chan struct{})}
	var started, stopped bool
	r := NewLifecycleRunner(d, Hooks{
		OnStart: func() { started = true },
		OnStop:  func() { stopped = true },
	}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop")
	}
	select {
	case <-d.drained:
	default:
		t.Fatalf("drainer not invoked")
	}
	if !started || !stopped {
		t.Fatalf("hooks not invoked: started=%v stopped=%v", started, stopped)
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped state, got %d", r.State())
	}
}

func TestDrainTimeout(t *testing.T) {
	d := &slowDrainer{delay: 500 * time.Millisecond, drained: make(chan struct{})}
	r := NewLifecycleRunner(d, Hooks{}, 10*time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = r.Stop()
	}()
	err := r.Run(context.Background())
	if err == nil || err.Error() != "drain timeout" {
		t.Fatalf("expected drain timeout, got %v", err)
	}
}

func TestRunTwiceRejected(t *testing.T) {
	r := NewLifecycleRunner(nil, Hooks{}, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running state")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-errCh

	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("second run must be rejected")
	}
}
