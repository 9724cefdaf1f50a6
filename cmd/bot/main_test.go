package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckConfigRedactsToken(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte("telegram:\n  token: secret-token\nfetch:\n  strategy: ytdlp\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BOT_TOKEN", "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"check-config", "--config", p})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("check-config: %v", err)
	}
	s := out.String()
	if strings.Contains(s, "secret-token") {
		t.Fatalf("token printed: %s", s)
	}
	if !strings.Contains(s, `"strategy": "ytdlp"`) || !strings.Contains(s, `"max_concurrent_jobs": 4`) {
		t.Fatalf("unexpected output: %s", s)
	}
}

func TestCheckConfigMissingToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"check-config"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected missing token error")
	}
}
