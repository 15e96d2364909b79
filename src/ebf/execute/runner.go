package execute

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bitswalk/ebf/src/common/errors"
)

// Patterns promoted to error/warn level when scanning build output.
// make and gcc bury the interesting lines in megabytes of progress noise.
var (
	errorPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\berror[: ]`),
		regexp.MustCompile(`\*\*\* .*Error \d+`),
		regexp.MustCompile(`undefined reference`),
		regexp.MustCompile(`No rule to make target`),
		regexp.MustCompile(`(?i)^fatal:`),
	}
	warningPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bwarning[: ]`),
	}
)

// tailLines is how many trailing output lines a Result retains. Enough to
// show the actual compiler error without replaying the whole build log.
const tailLines = 20

// Runner executes commands directly, streaming their merged output line by
// line into the logger and an optional per-build log file.
type Runner struct {
	logPath string
	logFile *os.File
}

// NewRunner creates a runner. logPath may be empty to skip file logging;
// otherwise output is appended there with a header block per command.
func NewRunner(logPath string) (*Runner, error) {
	r := &Runner{logPath: logPath}
	if logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open build log %s: %w", logPath, err)
		}
		r.logFile = f
	}
	return r, nil
}

// Close closes the build log file
func (r *Runner) Close() error {
	if r.logFile != nil {
		return r.logFile.Close()
	}
	return nil
}

// LogPath returns the build log path, empty when file logging is off
func (r *Runner) LogPath() string {
	return r.logPath
}

// Run launches the command and streams its output. stderr is merged into
// stdout so the build log preserves interleaving. The returned error is
// non-nil only when the process could not be started; a non-zero exit is
// reported through Result.ExitCode.
func (r *Runner) Run(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	c.Env = buildEnv(cmd.Env)

	stdout, err := c.StdoutPipe()
	if err != nil {
		return Result{}, errors.ErrProcessLaunch.WithCause(err)
	}
	c.Stderr = c.Stdout

	r.writeHeader(cmd)
	log.Info("Running command", "cmd", strings.Join(cmd.Argv, " "), "dir", cmd.Dir)

	start := time.Now()
	if err := c.Start(); err != nil {
		return Result{}, errors.ErrProcessLaunch.WithMessagef("failed to launch %s", cmd.Argv[0]).WithCause(err)
	}

	var tail []string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		r.emitLine(line)
		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[1:]
		}
	}

	waitErr := c.Wait()
	res := Result{
		Duration: time.Since(start),
		Tail:     tail,
		LogPath:  r.logPath,
	}
	if waitErr != nil {
		exitErr, ok := waitErr.(*exec.ExitError)
		if !ok {
			return res, errors.ErrProcessLaunch.WithCause(waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
	}

	if res.ExitCode != 0 {
		log.Error("Command failed", "cmd", cmd.Argv[0], "exit_code", res.ExitCode, "duration", res.Duration)
	} else {
		log.Debug("Command finished", "cmd", cmd.Argv[0], "duration", res.Duration)
	}
	return res, nil
}

// Capture runs a short command and returns its combined output. Used for
// probes like `gcc --version` where streaming is pointless.
func (r *Runner) Capture(ctx context.Context, cmd Command) (Result, error) {
	c := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	c.Dir = cmd.Dir
	c.Env = buildEnv(cmd.Env)

	var buf bytes.Buffer
	c.Stdout = &buf
	c.Stderr = &buf

	start := time.Now()
	err := c.Run()
	res := Result{
		Duration: time.Since(start),
		Output:   buf.String(),
		Tail:     lastLines(buf.String(), tailLines),
		LogPath:  r.logPath,
	}
	if err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return res, errors.ErrProcessLaunch.WithMessagef("failed to launch %s", cmd.Argv[0]).WithCause(err)
		}
		res.ExitCode = exitErr.ExitCode()
	}
	return res, nil
}

// CheckTools verifies that the given binaries exist on the PATH and returns
// the missing ones.
func CheckTools(tools ...string) []string {
	var missing []string
	for _, tool := range tools {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	return missing
}

// writeHeader appends a command header block to the build log
func (r *Runner) writeHeader(cmd Command) {
	if r.logFile == nil {
		return
	}
	fmt.Fprintf(r.logFile, "\n%s\n", strings.Repeat("=", 72))
	if cmd.Label != "" {
		fmt.Fprintf(r.logFile, "== %s\n", cmd.Label)
	}
	fmt.Fprintf(r.logFile, "== command: %s\n", strings.Join(cmd.Argv, " "))
	if cmd.Dir != "" {
		fmt.Fprintf(r.logFile, "== dir:     %s\n", cmd.Dir)
	}
	fmt.Fprintf(r.logFile, "== started: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(r.logFile, "%s\n", strings.Repeat("=", 72))
}

// emitLine classifies a build output line and forwards it to the logger and
// the build log file
func (r *Runner) emitLine(line string) {
	if r.logFile != nil {
		fmt.Fprintln(r.logFile, line)
	}

	switch {
	case matchAny(errorPatterns, line):
		log.Error(line)
	case matchAny(warningPatterns, line):
		log.Warn(line)
	default:
		log.Debug(line)
	}
}

// lastLines returns the final n lines of s
func lastLines(s string, n int) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

func matchAny(patterns []*regexp.Regexp, line string) bool {
	for _, p := range patterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}
