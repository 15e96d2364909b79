package execute

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bitswalk/ebf/src/common/errors"
)

// ScriptWriter implements Executor by recording commands into a bash script
// instead of running them. Feeding it the same Command sequence a Runner
// would execute yields a script that reproduces the build elsewhere.
type ScriptWriter struct {
	path string
	buf  bytes.Buffer
}

// NewScriptWriter creates a writer that will save the script at path
func NewScriptWriter(path string) *ScriptWriter {
	w := &ScriptWriter{path: path}
	w.buf.WriteString("#!/bin/bash\n")
	w.buf.WriteString("# Generated build script. Run on a machine with the build tools installed.\n")
	w.buf.WriteString("set -euo pipefail\n")
	return w
}

// Path returns the script destination
func (w *ScriptWriter) Path() string {
	return w.path
}

// Run records the command. The Result always reports exit code zero since
// nothing executes at recording time.
func (w *ScriptWriter) Run(ctx context.Context, cmd Command) (Result, error) {
	w.buf.WriteString("\n")
	if cmd.Label != "" {
		fmt.Fprintf(&w.buf, "# %s\n", cmd.Label)
	}

	var line strings.Builder
	for _, kv := range sortedEnv(cmd.Env) {
		line.WriteString(kv)
		line.WriteString(" ")
	}
	for i, arg := range cmd.Argv {
		if i > 0 {
			line.WriteString(" ")
		}
		line.WriteString(shellQuote(arg))
	}

	if cmd.Dir != "" {
		fmt.Fprintf(&w.buf, "(cd %s && %s)\n", shellQuote(cmd.Dir), line.String())
	} else {
		fmt.Fprintf(&w.buf, "%s\n", line.String())
	}
	return Result{}, nil
}

// Comment adds a comment line to the script
func (w *ScriptWriter) Comment(text string) {
	fmt.Fprintf(&w.buf, "\n# %s\n", text)
}

// Bytes returns the script content accumulated so far
func (w *ScriptWriter) Bytes() []byte {
	return w.buf.Bytes()
}

// Save writes the script to its destination, executable
func (w *ScriptWriter) Save() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return errors.ErrScriptWrite.WithCause(err)
	}
	if err := os.WriteFile(w.path, w.buf.Bytes(), 0755); err != nil {
		return errors.ErrScriptWrite.WithCause(err)
	}
	log.Info("Build script written", "path", w.path)
	return nil
}

// sortedEnv renders env overrides as KEY=value prefix assignments in a
// stable order
func sortedEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+shellQuote(env[k]))
	}
	return out
}

// shellQuote quotes a string for bash when it contains anything beyond
// plain path/word characters
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' ||
			strings.ContainsRune("-_./=+:,@%", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
