package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/warboard/warboard/agent/internal/store"
)

func writeConfig(t *testing.T) (cfgPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "warboard.db")
	cfgPath = filepath.Join(dir, "config.yaml")
	body := `
clan:
  tag: "#ABC"
api:
  keys:
    - name: primary
      value_env: WARBOARD_KEY_PRIMARY
storage:
  path: ` + dbPath + `
`
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return cfgPath, dbPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRecruitMark_QueuesTags(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)

	out, err := execute(t, "--config", cfgPath, "--log-level", "error", "recruit", "mark", "abc", "#ABC", "def")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out, "2 tag(s) queued") {
		t.Errorf("output = %q", out)
	}

	st, err := store.Open(dbPath, 64)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	var queue []string
	if _, err := st.GetChunked(context.Background(), store.KeyProcessed, &queue); err != nil {
		t.Fatal(err)
	}
	if len(queue) != 2 || queue[0] != "#ABC" || queue[1] != "#DEF" {
		t.Errorf("queue = %v", queue)
	}
}

func TestRecruitMark_RequiresArgs(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	if _, err := execute(t, "--config", cfgPath, "recruit", "mark"); err == nil {
		t.Error("expected error without tags")
	}
}

func TestBadLogLevel(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	if _, err := execute(t, "--config", cfgPath, "--log-level", "loud", "recruit", "mark", "x"); err == nil {
		t.Error("expected error for unknown log level")
	}
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "rank")
	if err == nil || !strings.Contains(err.Error(), "config") {
		t.Errorf("err = %v, want config error", err)
	}
}
