package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/railconnect/authcore"
)

func setEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("AUTHCORE_JWT_SECRET", "access-signing-key-0123456789abcdef")
	t.Setenv("AUTHCORE_REFRESH_SECRET", "refresh-signing-key-0123456789abcdef")
	return "--env-file=" + filepath.Join(t.TempDir(), "none.env")
}

func TestRunUsage(t *testing.T) {
	envFile := setEnv(t)

	var stderr bytes.Buffer
	if err := run(context.Background(), []string{envFile}, &bytes.Buffer{}, &stderr); err == nil {
		t.Fatal("expected an error without a command")
	}
	if !strings.Contains(stderr.String(), "usage: authctl") {
		t.Fatalf("expected usage, got %q", stderr.String())
	}
}

func TestRunRejectsBadInvocations(t *testing.T) {
	envFile := setEnv(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown command", args: []string{"promote", "u-1"}, want: "unknown command"},
		{name: "missing id", args: []string{"suspend"}, want: "exactly one identity id"},
		{name: "extra id", args: []string{"unlock", "u-1", "u-2"}, want: "exactly one identity id"},
		{name: "migrate on memory", args: []string{"migrate"}, want: "--store=postgres"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := run(context.Background(), append([]string{envFile}, tc.args...), &bytes.Buffer{}, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestRunStatusOnUnknownIdentity(t *testing.T) {
	envFile := setEnv(t)

	err := run(context.Background(), []string{envFile, "suspend", "no-such-id"}, &bytes.Buffer{}, &bytes.Buffer{})
	if !errors.Is(err, authcore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
