package pipeline

import (
	"time"

	"github.com/bitswalk/ebf/src/ebf/toolchain"
)

// StageOutcome records how one stage ended: the exit code of its last
// command and the tail of that command's output. A stage that failed before
// running any command reports exit code zero; the error text carries the
// reason instead.
type StageOutcome struct {
	Stage      StageName `json:"stage"`
	ExitCode   int       `json:"exit_code"`
	OutputTail []string  `json:"output_tail,omitempty"`
}

// Result is the outcome of running a plan. It is returned for failed runs
// too, carrying whatever the pipeline managed to produce.
type Result struct {
	Target   string `json:"target"`
	Kind     string `json:"kind"`
	Arch     string `json:"arch"`
	Ref      string `json:"ref"`
	Commit   string `json:"commit,omitempty"`
	State    State  `json:"state"`
	Degraded bool   `json:"degraded"`

	// OutputDir holds collected artifacts once packaging ran
	OutputDir string   `json:"output_dir,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`
	Missing   []string `json:"missing,omitempty"`

	// StageOutcomes lists the stages that ran, in order
	StageOutcomes []StageOutcome `json:"stage_outcomes,omitempty"`

	Toolchain *toolchain.Descriptor `json:"-"`
	StartedAt time.Time             `json:"started_at"`
	EndedAt   time.Time             `json:"ended_at"`
	Error     string                `json:"error,omitempty"`

	// ScriptPath is set when the run recorded a script instead of building
	ScriptPath string `json:"script_path,omitempty"`
}

// newResult seeds a result from the build context
func newResult(pc *Context) *Result {
	return &Result{
		Target: pc.Target.Name(),
		Kind:   string(pc.Target.Kind()),
		Arch:   string(pc.Target.Arch()),
		Ref:    pc.Ref,
	}
}

// Duration returns how long the run took
func (r *Result) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
