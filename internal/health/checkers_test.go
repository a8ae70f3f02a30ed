package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func TestExecutable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	bin := filepath.Join(dir, "fake-ffmpeg")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "absolute executable", path: bin},
		{name: "missing", path: filepath.Join(dir, "nope"), wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := Executable("ffmpeg", tc.path).Check(context.Background())
			if (err != nil) != tc.wantErr {
				t.Errorf("Check() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestReady(t *testing.T) {
	t.Parallel()
	var ready atomic.Bool
	c := Ready("discord", ready.Load)

	if err := c.Check(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("Check() before ready = %v, want ErrNotReady", err)
	}
	ready.Store(true)
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() after ready = %v, want nil", err)
	}
	if c.Name != "discord" {
		t.Errorf("Name = %q, want %q", c.Name, "discord")
	}
}
