package boardsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/agilekit/boardsync/internal/config"
)

func writeConfig(t *testing.T, dir, contents string) {
	t.Helper()
	cfgDir := filepath.Join(dir, ".boardsync")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.json"), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBackendsRegistered(t *testing.T) {
	backends := Backends()
	if len(backends) != 3 {
		t.Fatalf("Backends() = %v, want zenhub, jira, linear", backends)
	}
}

func TestOpenWiresAdapter(t *testing.T) {
	t.Setenv("ZENHUB_TOKEN", "zh-token")
	dir := t.TempDir()
	writeConfig(t, dir, `{
		"backend_kind": "zenhub",
		"credential_ref": "ZENHUB_TOKEN",
		"workspace_id": "5f1e2d3c4b5a697887766554",
		"repository_id": "123456789",
		"organization_id": "Z2lkOi8vcmF3L09yZy8x",
		"pipeline_map": {"in_progress": "pip-1", "review_qa": "pip-2", "done": "pip-3"}
	}`)

	session, err := Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = session.Close() }()

	if session.BackendName() != "ZenHub" {
		t.Errorf("BackendName = %q", session.BackendName())
	}

	ref, err := session.Resolve("#42")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Raw != "#42" {
		t.Errorf("ref = %s", ref)
	}
}

func TestOpenIncompleteConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"backend_kind": "jira"}`)

	_, err := Open(context.Background(), dir)
	var incomplete *config.IncompleteError
	if !errors.As(err, &incomplete) {
		t.Fatalf("err = %v, want IncompleteError listing every missing key", err)
	}
	if len(incomplete.Missing) < 3 {
		t.Errorf("Missing = %v, want all missing keys aggregated", incomplete.Missing)
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent("open_pr")
	if err != nil || ev != OpenPR {
		t.Errorf("ParseEvent(open_pr) = %v, %v", ev, err)
	}
	if _, err := ParseEvent("deploy"); err == nil {
		t.Error("ParseEvent accepted an unknown event")
	}
}
