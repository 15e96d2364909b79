package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bitswalk/ebf/src/common/errors"
	"github.com/bitswalk/ebf/src/ebf/execute"
	"github.com/bitswalk/ebf/src/ebf/repo"
	"github.com/bitswalk/ebf/src/ebf/target"
	"github.com/bitswalk/ebf/src/ebf/toolchain"
)

// recordingExec collects commands and returns a fixed exit code
type recordingExec struct {
	commands []execute.Command
	exitCode int
}

func (r *recordingExec) Run(ctx context.Context, cmd execute.Command) (execute.Result, error) {
	r.commands = append(r.commands, cmd)
	return execute.Result{ExitCode: r.exitCode}, nil
}

func newTestContext(t *testing.T) *Context {
	t.Helper()
	d, err := target.KernelPlatform("zynqmp")
	if err != nil {
		t.Fatal(err)
	}
	work := t.TempDir()
	return &Context{
		Target:    d,
		Exec:      &recordingExec{},
		WorkDir:   work,
		SourceDir: filepath.Join(work, "src"),
		OutputDir: filepath.Join(work, "out"),
		Ref:       "2023_R2",
	}
}

// testStages builds a plan whose stages only record their execution
func testStages(ran *[]StageName) []Stage {
	mk := func(name StageName, to State) Stage {
		return Stage{Name: name, To: to, Run: func(ctx context.Context, pc *Context) error {
			*ran = append(*ran, name)
			return nil
		}}
	}
	return []Stage{
		mk(StagePrepare, StateSourceReady),
		mk(StageConfigure, StateConfigured),
		mk(StageCompile, StateBuilt),
		mk(StagePackage, StatePackaged),
	}
}

// =============================================================================
// Run and Resume Tests
// =============================================================================

func TestRun_AllStagesFromScratch(t *testing.T) {
	pc := newTestContext(t)
	pc.Result = newResult(pc)
	var ran []StageName
	p := &Plan{pc: pc, stages: testStages(&ran)}

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StatePackaged {
		t.Errorf("final state = %q", res.State)
	}
	if len(ran) != 4 {
		t.Errorf("stages ran = %v", ran)
	}
	if _, err := os.Stat(p.statePath()); err != nil {
		t.Errorf("state not persisted: %v", err)
	}
}

func TestRun_ResumesPastCompletedStages(t *testing.T) {
	pc := newTestContext(t)
	pc.Result = newResult(pc)
	var first []StageName
	p := &Plan{pc: pc, stages: testStages(&first)}
	p.saveState(StateConfigured)

	var ran []StageName
	p.stages = testStages(&ran)
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ran) != 2 || ran[0] != StageCompile || ran[1] != StagePackage {
		t.Errorf("resumed stages = %v, want compile and package only", ran)
	}
}

func TestRun_RefChangeInvalidatesState(t *testing.T) {
	pc := newTestContext(t)
	pc.Result = newResult(pc)
	var ran []StageName
	p := &Plan{pc: pc, stages: testStages(&ran)}
	p.saveState(StateBuilt)

	pc.Ref = "main"
	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ran) != 4 {
		t.Errorf("state for a different ref should not transfer, ran %v", ran)
	}
}

func TestRun_FailedStageKeepsPriorState(t *testing.T) {
	pc := newTestContext(t)
	pc.Result = newResult(pc)
	var ran []StageName
	stages := testStages(&ran)
	stages[2].Run = func(ctx context.Context, pc *Context) error {
		return errors.ErrStageFailed.WithMessage("compiler exploded")
	}
	p := &Plan{pc: pc, stages: stages}

	res, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected stage failure")
	}
	if res == nil || res.State != StateConfigured {
		t.Fatalf("result state = %+v, want configured", res)
	}
	if res.Error == "" {
		t.Error("result should carry the failure message")
	}
	if got := p.State(); got != StateConfigured {
		t.Errorf("persisted state = %q, want configured so the next run resumes", got)
	}
}

func TestRun_ScriptModeIgnoresAndSkipsPersistence(t *testing.T) {
	pc := newTestContext(t)
	pc.Result = newResult(pc)
	pc.ScriptMode = true
	var ran []StageName
	p := &Plan{pc: pc, stages: testStages(&ran)}
	// A leftover state file from a real run must not shorten the script
	pc.ScriptMode = false
	p.saveState(StateBuilt)
	pc.ScriptMode = true

	if _, err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(ran) != 4 {
		t.Errorf("script mode must run every stage, ran %v", ran)
	}

	data, err := os.ReadFile(p.statePath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), string(StateBuilt)) {
		t.Error("script run rewrote persisted state")
	}
}

// =============================================================================
// Stage Outcome Tests
// =============================================================================

func TestRun_RecordsOutcomePerStage(t *testing.T) {
	pc := newTestContext(t)
	pc.Result = newResult(pc)
	var ran []StageName
	p := &Plan{pc: pc, stages: testStages(&ran)}

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.StageOutcomes) != 4 {
		t.Fatalf("outcomes = %+v, want one per stage", res.StageOutcomes)
	}
	for i, so := range res.StageOutcomes {
		if so.Stage != p.stages[i].Name {
			t.Errorf("outcome[%d].Stage = %q, want %q", i, so.Stage, p.stages[i].Name)
		}
		if so.ExitCode != 0 {
			t.Errorf("outcome[%d].ExitCode = %d", i, so.ExitCode)
		}
	}
}

func TestRun_FailedCompileExitCodeInOutcomes(t *testing.T) {
	pc := newTestContext(t)
	pc.Result = newResult(pc)
	failing := &recordingExec{exitCode: 2}
	var ran []StageName
	stages := testStages(&ran)
	stages[2].Run = func(ctx context.Context, pc *Context) error {
		pc.Exec = failing
		return pc.RunCommand(ctx, StageCompile, execute.Command{Argv: []string{"make"}})
	}
	p := &Plan{pc: pc, stages: stages}

	res, err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected compile failure")
	}

	last := res.StageOutcomes[len(res.StageOutcomes)-1]
	if last.Stage != StageCompile || last.ExitCode != 2 {
		t.Errorf("failing outcome = %+v, want compile with exit code 2", last)
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"stage_outcomes"`) {
		t.Errorf("result JSON missing stage_outcomes: %s", data)
	}
	if !strings.Contains(string(data), `"exit_code":2`) {
		t.Errorf("result JSON missing structured exit code: %s", data)
	}
}

func TestRunCommand_KeepsOutputTail(t *testing.T) {
	pc := newTestContext(t)
	pc.Exec = &tailExec{tail: []string{"cc1: fatal error", "make: *** Error 1"}, exitCode: 1}

	err := pc.RunCommand(context.Background(), StageCompile, execute.Command{Argv: []string{"make"}})
	if !errors.Is(err, errors.ErrStageFailed) {
		t.Fatalf("error = %v", err)
	}
	if len(pc.lastTail) != 2 || pc.lastTail[0] != "cc1: fatal error" {
		t.Errorf("lastTail = %v", pc.lastTail)
	}
	if pc.lastExitCode != 1 {
		t.Errorf("lastExitCode = %d", pc.lastExitCode)
	}
}

// tailExec returns a canned output tail alongside the exit code
type tailExec struct {
	tail     []string
	exitCode int
}

func (e *tailExec) Run(ctx context.Context, cmd execute.Command) (execute.Result, error) {
	return execute.Result{ExitCode: e.exitCode, Tail: e.tail}, nil
}

// =============================================================================
// RunCommand Tests
// =============================================================================

func TestRunCommand_NonZeroExitBecomesStageFailed(t *testing.T) {
	pc := newTestContext(t)
	pc.Exec = &recordingExec{exitCode: 2}

	err := pc.RunCommand(context.Background(), StageCompile, execute.Command{Argv: []string{"make"}})
	if !errors.Is(err, errors.ErrStageFailed) {
		t.Errorf("error = %v, want ErrStageFailed", err)
	}
}

// =============================================================================
// Clean Tests
// =============================================================================

func TestClean_ShallowDropsToSourceReady(t *testing.T) {
	pc := newTestContext(t)
	pc.Result = newResult(pc)
	exec := &recordingExec{}
	pc.Exec = exec
	p := &Plan{pc: pc, stages: kernelStages()}
	p.saveState(StatePackaged)

	if err := p.Clean(context.Background(), false); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if got := p.State(); got != StateSourceReady {
		t.Errorf("state after shallow clean = %q", got)
	}
	if len(exec.commands) != 1 || !strings.Contains(strings.Join(exec.commands[0].Argv, " "), "clean") {
		t.Errorf("clean command = %v", exec.commands)
	}
}

func TestClean_DeepResetsToUninitialized(t *testing.T) {
	pc := newTestContext(t)
	pc.Result = newResult(pc)
	exec := &recordingExec{}
	pc.Exec = exec
	p := &Plan{pc: pc, stages: kernelStages()}
	p.saveState(StatePackaged)

	if err := p.Clean(context.Background(), true); err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if got := p.State(); got != StateUninitialized {
		t.Errorf("state after deep clean = %q", got)
	}
	if !strings.Contains(strings.Join(exec.commands[0].Argv, " "), "mrproper") {
		t.Errorf("deep kernel clean should run mrproper: %v", exec.commands)
	}
}

func TestCleanTargetFor(t *testing.T) {
	tests := []struct {
		kind target.Kind
		deep bool
		want string
	}{
		{target.KindKernel, false, "clean"},
		{target.KindKernel, true, "mrproper"},
		{target.KindHDL, true, "clean-all"},
		{target.KindNoOS, true, "reset"},
		{target.KindBoot, true, ""},
	}
	for _, tt := range tests {
		if got := cleanTargetFor(tt.kind, tt.deep); got != tt.want {
			t.Errorf("cleanTargetFor(%q, %v) = %q, want %q", tt.kind, tt.deep, got, tt.want)
		}
	}
}

// =============================================================================
// Plan Construction Tests
// =============================================================================

// =============================================================================
// Mode Equivalence Tests
// =============================================================================

// staticProvider resolves to a bare descriptor so both modes fall back to
// the conventional cross prefix
type staticProvider struct{}

func (staticProvider) Name() string { return "static" }

func (staticProvider) Probe(ctx context.Context, req toolchain.Request) (toolchain.Probe, error) {
	return toolchain.Probe{
		Available:  true,
		Descriptor: &toolchain.Descriptor{Kind: toolchain.KindSystem, Version: "13.2.0"},
	}, nil
}

// A recorded script must replay the same build commands a direct run
// executes, plus the packaging copies that replace in-process collection.
func TestScriptModeMirrorsRunModeCommands(t *testing.T) {
	if missing := execute.CheckTools("make", "git"); len(missing) > 0 {
		t.Skipf("missing tools: %v", missing)
	}

	tgt, err := target.KernelPlatform("zynqmp")
	if err != nil {
		t.Fatal(err)
	}
	work := t.TempDir()
	newCtx := func(script bool) (*Context, *recordingExec) {
		rec := &recordingExec{}
		return &Context{
			Target:     tgt,
			Exec:       rec,
			Repo:       repo.NewGit(rec),
			Resolver:   toolchain.NewResolver(staticProvider{}),
			WorkDir:    work,
			SourceDir:  filepath.Join(work, "src"),
			OutputDir:  filepath.Join(work, "out"),
			RepoURL:    "https://example.com/linux.git",
			Ref:        "2023_R2",
			Jobs:       2,
			ScriptMode: script,
		}, rec
	}

	runPC, runRec := newCtx(false)
	plan, err := NewPlan(runPC)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := plan.Run(context.Background()); err != nil {
		t.Fatalf("run mode: %v", err)
	}

	scriptPC, scriptRec := newCtx(true)
	plan, err = NewPlan(scriptPC)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := plan.Run(context.Background()); err != nil {
		t.Fatalf("script mode: %v", err)
	}

	if len(scriptRec.commands) < len(runRec.commands) {
		t.Fatalf("script recorded %d commands, run executed %d",
			len(scriptRec.commands), len(runRec.commands))
	}
	for i, cmd := range runRec.commands {
		got := strings.Join(scriptRec.commands[i].Argv, " ")
		want := strings.Join(cmd.Argv, " ")
		if got != want {
			t.Errorf("command %d differs between modes:\n  run:    %s\n  script: %s", i, want, got)
		}
		if scriptRec.commands[i].Dir != cmd.Dir {
			t.Errorf("command %d dir differs: run %q, script %q", i, cmd.Dir, scriptRec.commands[i].Dir)
		}
	}

	// The script's extra commands are the packaging copies a direct run
	// performs in-process
	for _, cmd := range scriptRec.commands[len(runRec.commands):] {
		switch cmd.Argv[0] {
		case "mkdir", "cp", "sh":
		default:
			t.Errorf("unexpected script-only command: %v", cmd.Argv)
		}
	}
}

func TestNewPlan_StageSequences(t *testing.T) {
	pc := newTestContext(t)
	p, err := NewPlan(pc)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if len(p.stages) != 4 {
		t.Errorf("kernel plan has %d stages", len(p.stages))
	}
	if p.stages[0].Name != StagePrepare || p.stages[3].Name != StagePackage {
		t.Errorf("stage order = %v, %v", p.stages[0].Name, p.stages[3].Name)
	}
	if pc.Result == nil {
		t.Error("NewPlan did not seed a result")
	}
}
