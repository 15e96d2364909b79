// Package pipeline drives multi-stage firmware builds: source preparation,
// configuration, compilation and packaging. Each target kind (kernel, HDL,
// no-OS, boot image) contributes its own stage implementations; the plan
// tracks persistent state between runs so an interrupted build resumes at
// the stage that failed.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bitswalk/ebf/src/common/errors"
	"github.com/bitswalk/ebf/src/common/logs"
	"github.com/bitswalk/ebf/src/ebf/download"
	"github.com/bitswalk/ebf/src/ebf/execute"
	"github.com/bitswalk/ebf/src/ebf/repo"
	"github.com/bitswalk/ebf/src/ebf/target"
	"github.com/bitswalk/ebf/src/ebf/toolchain"
)

var log = logs.NewDefault()

// SetLogger sets the logger for the pipeline package
func SetLogger(l *logs.Logger) {
	if l != nil {
		log = l
	}
}

// State is where a target's build currently stands. States are ordered:
// each stage moves the build one state forward, clean moves it back.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateSourceReady   State = "source-ready"
	StateConfigured    State = "configured"
	StateBuilt         State = "built"
	StatePackaged      State = "packaged"
)

// rank orders states for resume decisions
func (s State) rank() int {
	switch s {
	case StateSourceReady:
		return 1
	case StateConfigured:
		return 2
	case StateBuilt:
		return 3
	case StatePackaged:
		return 4
	}
	return 0
}

// StageName identifies a pipeline stage
type StageName string

const (
	StagePrepare   StageName = "prepare"
	StageConfigure StageName = "configure"
	StageCompile   StageName = "compile"
	StagePackage   StageName = "package"
)

// Stage is one step of a build plan
type Stage struct {
	Name StageName

	// To is the state reached when the stage succeeds
	To State

	// Run performs the stage's work
	Run func(ctx context.Context, pc *Context) error
}

// Context carries everything stages need. One Context serves one target
// build from start to finish.
type Context struct {
	Target    target.Descriptor
	Exec      execute.Executor
	Repo      repo.Repository
	Resolver  *toolchain.Resolver
	Download  *download.Client
	WorkDir   string // per-target working directory
	SourceDir string // checkout the build runs in
	OutputDir string // artifact destination
	RepoURL   string
	Ref       string
	Jobs      int
	CacheDir  string

	// WantVersion is the preferred vendor tool release, advisory except
	// where a project pins one
	WantVersion string

	// IgnoreVersionCheck overrides hard tool version gates
	IgnoreVersionCheck bool

	// MaxOOCJobs caps out-of-context synthesis parallelism for HDL builds
	MaxOOCJobs int

	// UBootURL/UBootRef and ATFURL/ATFRef locate the component source trees
	// a boot image builds itself when no prebuilt image is configured
	UBootURL string
	UBootRef string
	ATFURL   string
	ATFRef   string

	// ScriptMode records commands instead of executing them. Stage skipping
	// and state persistence are disabled so the script always reproduces a
	// full build.
	ScriptMode bool

	// Toolchain is resolved on first use
	Toolchain *toolchain.Descriptor

	// Commit is the source commit hash, set by the prepare stage
	Commit string

	// Result accumulates the build outcome
	Result *Result

	// Outcome of the most recent command, reset per stage
	lastExitCode int
	lastTail     []string
}

// EnsureToolchain resolves the toolchain once per build. Script mode skips
// resolution: the generated script runs on a machine whose toolchain we
// cannot see from here.
func (pc *Context) EnsureToolchain(ctx context.Context, bareMetal bool) error {
	if pc.Toolchain != nil || pc.ScriptMode {
		return nil
	}
	desc, err := pc.Resolver.Resolve(ctx, toolchain.Request{
		Arch:        pc.Target.Arch(),
		WantVersion: pc.WantVersion,
		CacheDir:    pc.CacheDir,
		BareMetal:   bareMetal,
	})
	if err != nil {
		return err
	}
	pc.Toolchain = desc
	pc.Result.Toolchain = desc
	return nil
}

// CrossCompile returns the cross prefix for the target, from the resolved
// toolchain when available, else the conventional prefix for the arch
func (pc *Context) CrossCompile() string {
	if pc.Toolchain != nil {
		if prefix := pc.Toolchain.CrossCompile(pc.Target.Arch()); prefix != "" {
			return prefix
		}
	}
	return toolchain.DefaultCrossPrefix(pc.Target.Arch())
}

// BuildEnv composes the environment for build commands: toolchain variables
// with ARCH/CROSS_COMPILE layered on top
func (pc *Context) BuildEnv() map[string]string {
	env := map[string]string{}
	if pc.Toolchain != nil {
		for k, v := range pc.Toolchain.Env {
			env[k] = v
		}
	}
	env["ARCH"] = string(pc.Target.Arch())
	env["CROSS_COMPILE"] = pc.CrossCompile()
	return env
}

// RunCommand executes a command and converts a non-zero exit into a
// StageFailed error carrying the exit code and log location
func (pc *Context) RunCommand(ctx context.Context, stage StageName, cmd execute.Command) error {
	res, err := pc.Exec.Run(ctx, cmd)
	if err != nil {
		return err
	}
	pc.lastExitCode = res.ExitCode
	pc.lastTail = res.Tail
	if res.ExitCode != 0 {
		return errors.ErrStageFailed.WithMessagef(
			"stage %s: %s exited with code %d (log: %s)", stage, cmd.Argv[0], res.ExitCode, res.LogPath)
	}
	return nil
}

// Plan is an ordered sequence of stages for one target
type Plan struct {
	pc     *Context
	stages []Stage
}

// NewPlan builds the stage sequence for the context's target kind
func NewPlan(pc *Context) (*Plan, error) {
	var stages []Stage
	switch pc.Target.Kind() {
	case target.KindKernel:
		stages = kernelStages()
	case target.KindHDL:
		stages = hdlStages()
	case target.KindNoOS:
		stages = noosStages()
	case target.KindBoot:
		stages = bootStages()
	default:
		return nil, fmt.Errorf("unknown target kind %q", pc.Target.Kind())
	}
	if pc.Result == nil {
		pc.Result = newResult(pc)
	}
	return &Plan{pc: pc, stages: stages}, nil
}

// statePath is where the plan persists its state between runs
func (p *Plan) statePath() string {
	return filepath.Join(p.pc.WorkDir, "state.json")
}

type persistedState struct {
	State     State     `json:"state"`
	Target    string    `json:"target"`
	Ref       string    `json:"ref"`
	UpdatedAt time.Time `json:"updated_at"`
}

// State loads the persisted state, defaulting to uninitialized
func (p *Plan) State() State {
	data, err := os.ReadFile(p.statePath())
	if err != nil {
		return StateUninitialized
	}
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return StateUninitialized
	}
	// A state recorded for a different ref does not transfer
	if ps.Ref != p.pc.Ref || ps.Target != p.pc.Target.Name() {
		return StateUninitialized
	}
	return ps.State
}

// saveState persists the current state. Script mode never persists: nothing
// actually ran.
func (p *Plan) saveState(s State) {
	if p.pc.ScriptMode {
		return
	}
	if err := os.MkdirAll(p.pc.WorkDir, 0755); err != nil {
		log.Warn("Could not create work directory for state", "error", err)
		return
	}
	ps := persistedState{
		State:     s,
		Target:    p.pc.Target.Name(),
		Ref:       p.pc.Ref,
		UpdatedAt: time.Now(),
	}
	data, _ := json.MarshalIndent(ps, "", "  ")
	if err := os.WriteFile(p.statePath(), data, 0644); err != nil {
		log.Warn("Could not persist pipeline state", "error", err)
	}
}

// Run executes the plan from the current persisted state forward. Completed
// stages are skipped; a failing stage leaves the state where it was so the
// next run resumes there. The result is returned for both success and
// failure so callers can record degraded or partial outcomes.
func (p *Plan) Run(ctx context.Context) (*Result, error) {
	pc := p.pc
	pc.Result.StartedAt = time.Now()
	state := StateUninitialized
	if !pc.ScriptMode {
		state = p.State()
	}

	for _, stage := range p.stages {
		if !pc.ScriptMode && state.rank() >= stage.To.rank() {
			log.Info("Skipping completed stage", "stage", stage.Name, "state", state)
			continue
		}
		log.Info("Running stage", "stage", stage.Name, "target", pc.Target.Name())
		pc.lastExitCode, pc.lastTail = 0, nil
		err := stage.Run(ctx, pc)
		pc.Result.StageOutcomes = append(pc.Result.StageOutcomes, StageOutcome{
			Stage:      stage.Name,
			ExitCode:   pc.lastExitCode,
			OutputTail: pc.lastTail,
		})
		if err != nil {
			pc.Result.State = state
			pc.Result.EndedAt = time.Now()
			pc.Result.Error = err.Error()
			if errors.GetCode(err) == "" {
				err = errors.ErrStageFailed.WithMessagef("stage %s failed", stage.Name).WithCause(err)
			}
			return pc.Result, err
		}
		state = stage.To
		p.saveState(state)
	}

	pc.Result.State = state
	pc.Result.EndedAt = time.Now()
	return pc.Result, nil
}

// Clean removes build products. A shallow clean drops the build back to
// source-ready; a deep clean scrubs the tree entirely and the state returns
// to uninitialized.
func (p *Plan) Clean(ctx context.Context, deep bool) error {
	pc := p.pc
	cleanTarget := cleanTargetFor(pc.Target.Kind(), deep)
	dir := cleanDirFor(pc)

	if cleanTarget != "" && dir != "" {
		cmd := execute.MakeCommand(dir, 0, cleanTarget, nil, pc.BuildEnv())
		if err := pc.RunCommand(ctx, "clean", cmd); err != nil {
			return err
		}
	}

	if deep {
		p.saveState(StateUninitialized)
	} else {
		p.saveState(StateSourceReady)
	}
	return nil
}

// cleanTargetFor maps kind and depth to the make target that scrubs it
func cleanTargetFor(kind target.Kind, deep bool) string {
	switch kind {
	case target.KindKernel:
		if deep {
			return "mrproper"
		}
		return "clean"
	case target.KindHDL:
		if deep {
			return "clean-all"
		}
		return "clean"
	case target.KindNoOS:
		if deep {
			return "reset"
		}
		return "clean"
	}
	return ""
}

// cleanDirFor returns the directory make clean runs in
func cleanDirFor(pc *Context) string {
	switch pc.Target.Kind() {
	case target.KindHDL:
		return filepath.Join(pc.SourceDir, "projects", pc.Target.HDLProject())
	case target.KindNoOS:
		return filepath.Join(pc.SourceDir, "projects", pc.Target.NoOSProject())
	default:
		return pc.SourceDir
	}
}
