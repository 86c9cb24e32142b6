package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const taskFile = `
default: build
tasks:
  clean:
    cmds: ["echo clean >> log"]
    consume: clean
  lint:
    desc: static checks
    cmds: ["echo lint >> log", "test \"$FAIL\" != 1"]
    env: {FAIL: "0"}
  build:
    chain: [clean, lint]
  broken:
    cmds: ["exit 7"]
`

func project(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "gantry.yaml"), []byte(taskFile), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	return dir
}

func execute(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append([]string{"--no-color"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func readLog(t *testing.T, dir string) string {
	t.Helper()
	data, _ := os.ReadFile(filepath.Join(dir, "log"))
	return string(data)
}

func TestRun_DefaultTarget(t *testing.T) {
	dir := project(t)
	code, _, stderr := execute(t, "-C", dir, "--flag", "clean", "run")
	if code != exitOK {
		t.Fatalf("exit = %d\n%s", code, stderr)
	}
	if got := readLog(t, dir); got != "clean\nlint\n" {
		t.Errorf("log = %q", got)
	}
	if !strings.Contains(stderr, "done build") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRun_Failure(t *testing.T) {
	dir := project(t)
	code, _, stderr := execute(t, "-C", dir, "run", "broken")
	if code != exitFailure {
		t.Fatalf("exit = %d, want %d", code, exitFailure)
	}
	if !strings.Contains(stderr, "status 7") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	dir := project(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"-C", dir, "run", "--bogus"}},
		{"unknown command", []string{"-C", dir, "frobnicate"}},
		{"bad log level", []string{"-C", dir, "--log-level", "loud", "run"}},
		{"bad flag seed", []string{"-C", dir, "--flag", "=1", "run"}},
		{"list takes no args", []string{"-C", dir, "list", "extra"}},
		{"no target", []string{"-C", t.TempDir(), "run"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, tt.args...)
			if code != exitUsage {
				t.Errorf("exit = %d, want %d\n%s", code, exitUsage, stderr)
			}
		})
	}
}

func TestList(t *testing.T) {
	dir := project(t)
	code, stdout, stderr := execute(t, "-C", dir, "list")
	if code != exitOK {
		t.Fatalf("exit = %d\n%s", code, stderr)
	}
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	var names []string
	for _, l := range lines {
		names = append(names, strings.Fields(l)[0])
	}
	if want := []string{"broken", "build", "clean", "lint"}; !reflect.DeepEqual(names, want) {
		t.Errorf("names = %v, want %v\n%s", names, want, stdout)
	}
	if !strings.Contains(stdout, "build (default)") || !strings.Contains(stdout, "[clean → lint]") {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stdout, "static checks") {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestVersion(t *testing.T) {
	code, stdout, _ := execute(t, "version")
	if code != exitOK || !strings.HasPrefix(stdout, "gantry dev") {
		t.Errorf("exit = %d, stdout = %q", code, stdout)
	}
}

func TestParseFlags(t *testing.T) {
	got, err := parseFlags([]string{"clean", "jobs=4", "release=false", "name=api"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{"clean": true, "jobs": int64(4), "release": false, "name": "api"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseFlags = %#v, want %#v", got, want)
	}
	if _, err := parseFlags([]string{"=x"}); err == nil {
		t.Error("expected an error for an empty name")
	}
}
