package shared

import (
	"errors"
	"testing"
)

func TestBrowserCommand(t *testing.T) {
	original := getRuntime
	t.Cleanup(func() { getRuntime = original })

	tc := []struct {
		name    string
		goos    string
		target  string
		wantBin string
		wantErr bool
	}{
		{name: "darwin", goos: "darwin", target: "https://discogs.com/oauth/authorize", wantBin: "open"},
		{name: "linux", goos: "linux", target: "https://discogs.com/oauth/authorize", wantBin: "xdg-open"},
		{name: "windows", goos: "windows", target: "http://localhost:3000", wantBin: "rundll32"},
		{name: "unsupported", goos: "plan9", target: "https://discogs.com", wantErr: true},
		{name: "non http scheme", goos: "linux", target: "file:///etc/passwd", wantErr: true},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			getRuntime = func() string { return tt.goos }
			cmd, err := browserCommand(tt.target)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cmd.Args[0] != tt.wantBin {
				t.Errorf("expected %s, got %s", tt.wantBin, cmd.Args[0])
			}
		})
	}

	t.Run("scheme error wraps ErrInvalidInput", func(t *testing.T) {
		getRuntime = func() string { return "linux" }
		_, err := browserCommand("javascript:alert(1)")
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
