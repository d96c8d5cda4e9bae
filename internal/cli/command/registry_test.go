package command_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"arenaoj/internal/cli/command"
)

type executePayload struct {
	Language        string   `json:"language"`
	SourceCode      string   `json:"source_code"`
	Stdin           []string `json:"stdin"`
	ExpectedOutputs []string `json:"expected_outputs"`
}

func TestBuildExecuteRunRequest(t *testing.T) {
	registry := command.Registry()
	cmd, ok := registry["exec run"]
	if !ok {
		t.Fatal("exec run command not registered")
	}

	params := command.Params{}
	params.Set("problem_id", "42")
	params.Set("language", "cpp")
	params.Set("source_code", "int main() {}")
	params.Set("stdin", "1 2,3 4")
	params.Set("expected_outputs", `["3","7"]`)
	params.Set("idempotency_key", "idem-1")

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Method != "POST" {
		t.Fatalf("expected POST, got %s", req.Method)
	}
	if req.Path != "/api/v1/problems/42/execute" {
		t.Fatalf("unexpected path: %s", req.Path)
	}
	if req.Headers["Idempotency-Key"] != "idem-1" {
		t.Fatalf("expected idempotency header, got %v", req.Headers)
	}

	var payload executePayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if payload.Language != "cpp" {
		t.Fatalf("unexpected language: %s", payload.Language)
	}
	if len(payload.Stdin) != 2 || payload.Stdin[0] != "1 2" || payload.Stdin[1] != "3 4" {
		t.Fatalf("unexpected stdin: %v", payload.Stdin)
	}
	if len(payload.ExpectedOutputs) != 2 || payload.ExpectedOutputs[1] != "7" {
		t.Fatalf("unexpected expected_outputs: %v", payload.ExpectedOutputs)
	}
}

func TestBuildExecuteRunLengthMismatch(t *testing.T) {
	registry := command.Registry()
	cmd := registry["exec run"]

	params := command.Params{}
	params.Set("problem_id", "42")
	params.Set("language", "cpp")
	params.Set("source_code", "int main() {}")
	params.Set("stdin", "1,2,3")
	params.Set("expected_outputs", "1,2")

	if _, err := command.BuildRequest(cmd, params); err == nil {
		t.Fatal("expected error for mismatched list lengths")
	}
}

func TestBuildExecuteRunFromFiles(t *testing.T) {
	dir := t.TempDir()
	sourcePath := filepath.Join(dir, "main.py")
	stdinPath := filepath.Join(dir, "stdin.json")
	if err := os.WriteFile(sourcePath, []byte("print(input())"), 0o644); err != nil {
		t.Fatalf("write source file failed: %v", err)
	}
	if err := os.WriteFile(stdinPath, []byte(`["3","7"]`), 0o644); err != nil {
		t.Fatalf("write stdin file failed: %v", err)
	}

	registry := command.Registry()
	cmd := registry["exec run"]

	params := command.Params{}
	params.Set("problem_id", "42")
	params.Set("language", "python")
	params.Set("source_code", "_file_")
	params.Set("source_file", sourcePath)
	params.Set("stdin", "_file_")
	params.Set("stdin_file", stdinPath)
	params.Set("expected_outputs", "3,7")

	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var payload executePayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		t.Fatalf("decode body failed: %v", err)
	}
	if payload.SourceCode != "print(input())" {
		t.Fatalf("unexpected source code: %q", payload.SourceCode)
	}
	if len(payload.Stdin) != 2 || payload.Stdin[0] != "3" {
		t.Fatalf("unexpected stdin: %v", payload.Stdin)
	}
}

func TestBuildSubmissionGetRequest(t *testing.T) {
	registry := command.Registry()
	cmd, ok := registry["submission get"]
	if !ok {
		t.Fatal("submission get command not registered")
	}

	params := command.Params{}
	params.Set("id", "sub-1")
	req, err := command.BuildRequest(cmd, params)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Method != "GET" || req.Path != "/api/v1/submissions/sub-1" {
		t.Fatalf("unexpected request: %s %s", req.Method, req.Path)
	}
	if len(req.Body) != 0 {
		t.Fatalf("expected empty body, got %s", req.Body)
	}
}

func TestBuildPathMissingParameter(t *testing.T) {
	registry := command.Registry()
	cmd := registry["submission get"]

	if _, err := command.BuildRequest(cmd, command.Params{}); err == nil {
		t.Fatal("expected error for missing path parameter")
	}
}

func TestParseStringArray(t *testing.T) {
	items, err := command.ParseStringArray(`["a","b"]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 2 || items[0] != "a" {
		t.Fatalf("unexpected items: %v", items)
	}

	items, err = command.ParseStringArray("a, b , c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 || items[2] != "c" {
		t.Fatalf("unexpected items: %v", items)
	}

	if _, err := command.ParseStringArray(`[1,2]`); err == nil {
		t.Fatal("expected error for non-string JSON array")
	}
}
