package utils

import (
	"math"
	"os"
	"testing"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"30", 30, false},
		{"25/1", 25, false},
		{"30000/1001", 29.97002997, false},
		{" 60/1 ", 60, false},
		{"0/0", 0, true},
		{"N/A", 0, true},
		{"30/x", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFrameRate(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFrameRate(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		// Use epsilon for float comparison
		if math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("ParseFrameRate(%q) = %f, want %f", tt.in, got, tt.want)
		}
	}
}

func TestFmtTime(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "00:00:00.000"},
		{1.5, "00:00:01.500"},
		{3725.25, "01:02:05.250"},
	}
	for _, tt := range tests {
		if got := FmtTime(tt.in); got != tt.want {
			t.Errorf("FmtTime(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestGenerateSourceID(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "video_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	// Write dummy content
	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateSourceID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := GenerateSourceID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateSourceID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}
}

func TestNewSafeCommandCapturesStderr(t *testing.T) {
	c := NewSafeCommand("sh", "-c", "echo boom >&2; exit 3")
	if err := c.Run(); err == nil {
		t.Fatal("Expected non-zero exit")
	}
	if got := c.Stderr.String(); got != "boom\n" {
		t.Errorf("Expected captured stderr %q, got %q", "boom\n", got)
	}
}
