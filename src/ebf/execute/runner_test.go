package execute

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bitswalk/ebf/src/common/errors"
)

// =============================================================================
// Runner Tests
// =============================================================================

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	r, err := NewRunner(filepath.Join(t.TempDir(), "build.log"))
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRunner_SuccessfulCommand(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), Command{
		Argv:  []string{"sh", "-c", "echo building"},
		Label: "echo",
	})
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", res.ExitCode)
	}

	data, err := os.ReadFile(r.LogPath())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "building") {
		t.Errorf("log missing command output: %s", data)
	}
}

func TestRunner_NonZeroExitIsData(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), Command{Argv: []string{"sh", "-c", "exit 2"}})
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if res.ExitCode != 2 {
		t.Errorf("exit code = %d, want 2", res.ExitCode)
	}
}

func TestRunner_LaunchFailure(t *testing.T) {
	r := newTestRunner(t)

	_, err := r.Run(context.Background(), Command{Argv: []string{"/nonexistent/compiler"}})
	if err == nil {
		t.Fatal("expected launch failure")
	}
	if !errors.Is(err, errors.ErrProcessLaunch) {
		t.Errorf("error = %v, want ErrProcessLaunch", err)
	}
}

func TestRunner_StderrMerged(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), Command{
		Argv: []string{"sh", "-c", "echo oops >&2"},
	})
	if err != nil || res.ExitCode != 0 {
		t.Fatalf("Run: %v / exit %d", err, res.ExitCode)
	}

	data, _ := os.ReadFile(r.LogPath())
	if !strings.Contains(string(data), "oops") {
		t.Errorf("stderr output missing from log: %s", data)
	}
}

func TestRunner_Capture(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Capture(context.Background(), Command{
		Argv: []string{"sh", "-c", "printf abc123"},
	})
	if err != nil {
		t.Fatalf("Capture error: %v", err)
	}
	if strings.TrimSpace(res.Output) != "abc123" {
		t.Errorf("captured output = %q", res.Output)
	}
}

func TestRunner_KeepsOutputTail(t *testing.T) {
	r := newTestRunner(t)

	res, err := r.Run(context.Background(), Command{
		Argv: []string{"sh", "-c", "seq 1 30; exit 1"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Tail) != tailLines {
		t.Fatalf("tail has %d lines, want %d", len(res.Tail), tailLines)
	}
	if res.Tail[len(res.Tail)-1] != "30" {
		t.Errorf("tail ends with %q, want the last output line", res.Tail[len(res.Tail)-1])
	}
	if res.Tail[0] != "11" {
		t.Errorf("tail starts with %q, oldest lines should have been dropped", res.Tail[0])
	}
}

func TestLastLines(t *testing.T) {
	tests := []struct {
		in    string
		n     int
		want  int
		first string
	}{
		{"", 5, 0, ""},
		{"one\n", 5, 1, "one"},
		{"a\nb\nc\nd\n", 2, 2, "c"},
		{"a\nb", 5, 2, "a"},
	}
	for _, tt := range tests {
		got := lastLines(tt.in, tt.n)
		if len(got) != tt.want {
			t.Errorf("lastLines(%q, %d) has %d lines, want %d", tt.in, tt.n, len(got), tt.want)
			continue
		}
		if tt.want > 0 && got[0] != tt.first {
			t.Errorf("lastLines(%q, %d)[0] = %q, want %q", tt.in, tt.n, got[0], tt.first)
		}
	}
}

// =============================================================================
// Output Classification Tests
// =============================================================================

func TestOutputClassification(t *testing.T) {
	errorLines := []string{
		"main.c:10:5: error: unknown type name 'u32'",
		"make[1]: *** [Makefile:1868: vmlinux] Error 2",
		"drivers/iio/adc.o: undefined reference to `clk_get_rate'",
		"make: *** No rule to make target 'missing_defconfig'.  Stop.",
		"fatal: not a git repository",
	}
	for _, line := range errorLines {
		if !matchAny(errorPatterns, line) {
			t.Errorf("line not classified as error: %q", line)
		}
	}

	warnLines := []string{
		"main.c:22:9: warning: unused variable 'ret'",
	}
	for _, line := range warnLines {
		if !matchAny(warningPatterns, line) {
			t.Errorf("line not classified as warning: %q", line)
		}
	}

	plain := []string{
		"  CC      drivers/iio/adc.o",
		"  LD      vmlinux",
	}
	for _, line := range plain {
		if matchAny(errorPatterns, line) || matchAny(warningPatterns, line) {
			t.Errorf("progress line misclassified: %q", line)
		}
	}
}

// =============================================================================
// Tool Check Tests
// =============================================================================

func TestCheckTools(t *testing.T) {
	missing := CheckTools("sh", "definitely-not-a-real-tool-xyz")
	if len(missing) != 1 || missing[0] != "definitely-not-a-real-tool-xyz" {
		t.Errorf("missing = %v", missing)
	}
	if got := CheckTools("sh"); len(got) != 0 {
		t.Errorf("sh reported missing: %v", got)
	}
}
