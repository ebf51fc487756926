package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Skipf("Docker not available, skipping integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("irisguide_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close(ctx)

	// --- Test Scenarios ---

	first := uuid.New()
	if err := s.EnsureSession(ctx, first, "src_123", "/tmp/eye.mp4"); err != nil {
		t.Fatalf("EnsureSession failed: %v", err)
	}
	if err := s.InsertWindow(ctx, first, Window{Start: 4.0, End: 5.5, Frames: 15, PeakSharpness: 310}); err != nil {
		t.Fatalf("InsertWindow failed: %v", err)
	}
	if err := s.InsertWindow(ctx, first, Window{Start: 1.0, End: 2.0, Frames: 10, PeakSharpness: 220}); err != nil {
		t.Fatalf("InsertWindow failed: %v", err)
	}
	if err := s.UpdateSessionCounts(ctx, first, 180, 60); err != nil {
		t.Fatalf("UpdateSessionCounts failed: %v", err)
	}

	windows, err := s.SessionWindows(ctx, first)
	if err != nil {
		t.Fatalf("SessionWindows failed: %v", err)
	}
	if len(windows) != 2 || windows[0].Start != 1.0 {
		t.Fatalf("Expected 2 windows ordered by start, got %+v", windows)
	}

	if err := s.LabelSession(ctx, first, "left eye, window light"); err != nil {
		t.Fatalf("LabelSession failed: %v", err)
	}
	if err := s.LabelSession(ctx, uuid.New(), "nobody"); err == nil {
		t.Error("Expected error labelling an unknown session")
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	got := sessions[0]
	if got.ID != first || got.Windows != 2 || got.Frames != 180 || got.Analyzed != 60 || got.Label != "left eye, window light" {
		t.Errorf("Unexpected session row: %+v", got)
	}

	// Re-scanning the same source replaces the old session and its windows.
	second := uuid.New()
	if err := s.EnsureSession(ctx, second, "src_123", "/tmp/eye.mp4"); err != nil {
		t.Fatalf("EnsureSession (rescan) failed: %v", err)
	}
	sessions, err = s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != second || sessions[0].Windows != 0 {
		t.Errorf("Expected only the rescanned session, got %+v", sessions)
	}

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
}
