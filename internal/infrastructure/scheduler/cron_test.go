package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := Validate("*/5 * * * *"); err != nil {
		t.Fatalf("expected valid expression: %v", err)
	}
	if err := Validate("every five minutes"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestCronSchedulerStartStop(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewCronScheduler("@every 1h", time.UTC, logger)

	if err := s.Start(context.Background(), func(time.Time) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// second start is a no-op
	if err := s.Start(context.Background(), func(time.Time) {}); err != nil {
		t.Fatalf("Start twice: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop twice: %v", err)
	}
}

func TestCronSchedulerRejectsBadSpec(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewCronScheduler("61 * * * *", time.UTC, logger)
	if err := s.Start(context.Background(), func(time.Time) {}); err == nil {
		t.Fatalf("expected schedule error")
	}
}
