package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestRunAcceptsRepositoryQueries(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{"../../sqlinline"}, &stderr); code != 0 {
		t.Fatalf("run() = %d, want 0; output:\n%s", code, stderr.String())
	}
}

func TestRunReportsProblems(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing marker",
			body: "package q\n\nconst QBad = `select 1`\n",
			want: "missing or invalid",
		},
		{
			name: "duplicate marker",
			body: "package q\n\nconst QA = `--sql 11111111-2222-3333-4444-555555555555\nselect 1`\n" +
				"const QB = `--sql 11111111-2222-3333-4444-555555555555\nselect 2`\n",
			want: "already used",
		},
		{
			name: "ddl without marker",
			body: "package q\n\nconst QSchema = `create table t (id text)`\n",
			want: "QSchema",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeGo(t, dir, "q.go", tc.body)
			var stderr bytes.Buffer
			if code := run([]string{dir}, &stderr); code != 1 {
				t.Fatalf("run() = %d, want 1", code)
			}
			if !strings.Contains(stderr.String(), tc.want) {
				t.Fatalf("output %q does not mention %q", stderr.String(), tc.want)
			}
		})
	}
}

func TestRunIgnoresPlainStrings(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "q.go", "package q\n\nconst greeting = `hello there`\n")
	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 0 {
		t.Fatalf("run() = %d, want 0; output:\n%s", code, stderr.String())
	}
}
