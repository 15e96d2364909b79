// Package execute runs external build commands (make, git, vendor CLIs) and
// can alternatively record them into a reproducible shell script. Both modes
// consume the same Command values, so a scripted build replays exactly the
// command sequence a direct build would run.
package execute

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/bitswalk/ebf/src/common/logs"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the execute package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// Command describes a single external command
type Command struct {
	// Argv is the program and its arguments
	Argv []string

	// Dir is the working directory (empty = current)
	Dir string

	// Env holds variables merged over the allow-listed base environment.
	// A PATH entry replaces the inherited PATH.
	Env map[string]string

	// Label is a short description used in log output
	Label string
}

// Result reports the outcome of a command that was successfully launched.
// A non-zero exit code is ordinary data here; only failure to launch the
// process at all is reported as an error.
type Result struct {
	ExitCode int
	Duration time.Duration

	// Output holds combined output in capture mode, empty when streaming
	Output string

	// Tail holds the last lines of combined output. It is kept in streaming
	// mode too, where the full output only goes to the log.
	Tail []string

	// LogPath is the file the command's output was appended to, if any
	LogPath string
}

// Executor runs or records commands
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// envAllowList is the base environment forwarded to build commands. Build
// reproducibility depends on not leaking the whole caller environment in.
var envAllowList = []string{"HOME", "USER", "LANG", "LC_ALL", "TERM", "SHELL", "PATH"}

// buildEnv composes the process environment: allow-listed host variables
// with the command's explicit entries merged on top.
func buildEnv(overrides map[string]string) []string {
	merged := make(map[string]string, len(envAllowList)+len(overrides))
	for _, key := range envAllowList {
		if v, ok := os.LookupEnv(key); ok {
			merged[key] = v
		}
	}
	for k, v := range overrides {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}

// MakeCommand builds a `make` invocation with parallel jobs, an optional
// target and extra arguments.
func MakeCommand(dir string, jobs int, target string, extraArgs []string, env map[string]string) Command {
	argv := []string{"make"}
	if jobs > 0 {
		argv = append(argv, "-j"+strconv.Itoa(jobs))
	}
	argv = append(argv, extraArgs...)
	if target != "" {
		argv = append(argv, target)
	}
	label := "make"
	if target != "" {
		label = "make " + target
	}
	return Command{Argv: argv, Dir: dir, Env: env, Label: label}
}

// String renders the command for logs and error messages
func (c Command) String() string {
	return fmt.Sprintf("%v", c.Argv)
}
