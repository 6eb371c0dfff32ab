package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// externalTimeout bounds a single external executor invocation.
const externalTimeout = 5 * time.Minute

// ExternalConfig names the subprocess invoked for each phase and the
// allowlist gating which commands may run at all (ALLOWED_SHELL_COMMANDS,
// spec §6). Each Cmd is split on whitespace and exec'd directly: no shell
// is involved, so no command receives task text as an injectable argument.
type ExternalConfig struct {
	PlannerCmd      string
	ImplementorCmd  string
	ReviewerCmd     string
	TesterCmd       string
	AllowedCommands []string
}

// LoadExternalConfigFromEnv reads the per-phase executor commands and the
// shell-command allowlist from the environment (AOQ_PLANNER_CMD,
// AOQ_IMPLEMENTOR_CMD, AOQ_REVIEWER_CMD, AOQ_TESTER_CMD,
// ALLOWED_SHELL_COMMANDS as a comma-separated list).
func LoadExternalConfigFromEnv() ExternalConfig {
	var allowed []string
	for _, c := range strings.Split(os.Getenv("ALLOWED_SHELL_COMMANDS"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			allowed = append(allowed, c)
		}
	}
	return ExternalConfig{
		PlannerCmd:      os.Getenv("AOQ_PLANNER_CMD"),
		ImplementorCmd:  os.Getenv("AOQ_IMPLEMENTOR_CMD"),
		ReviewerCmd:     os.Getenv("AOQ_REVIEWER_CMD"),
		TesterCmd:       os.Getenv("AOQ_TESTER_CMD"),
		AllowedCommands: allowed,
	}
}

// resolveModel implements the OPENAI_{PHASE}_MODEL-with-shared-fallback
// pattern: a phase-specific model variable wins, falling back to the
// shared OPENAI_MODEL when unset.
func resolveModel(phase string) string {
	if m := os.Getenv("OPENAI_" + strings.ToUpper(phase) + "_MODEL"); m != "" {
		return m
	}
	return os.Getenv("OPENAI_MODEL")
}

func isAllowed(cmd string, allowed []string) bool {
	if cmd == "" {
		return false
	}
	head := strings.Fields(cmd)
	if len(head) == 0 {
		return false
	}
	for _, a := range allowed {
		if a == head[0] {
			return true
		}
	}
	return false
}

// runExternal marshals input as JSON to the configured command's stdin and
// decodes its stdout as JSON into output. The command's own exit status
// stands for ok/not-ok: a non-zero exit becomes an ExecutorError, exactly
// the "external phase executor is a function run(context) → artifact"
// contract in spec §6, with schema validation left to json.Unmarshal.
func runExternal(ctx context.Context, phase, cmdline string, allowed []string, input interface{}, output interface{}) error {
	if !isAllowed(cmdline, allowed) {
		return &ExecutorError{Phase: phase, Err: fmt.Errorf("command %q is not in ALLOWED_SHELL_COMMANDS", cmdline)}
	}

	parts := strings.Fields(cmdline)
	ctx, cancel := context.WithTimeout(ctx, externalTimeout)
	defer cancel()

	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("%s: marshal context: %w", phase, err)
	}

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Env = append(os.Environ(), "OPENAI_MODEL="+resolveModel(phase))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &ExecutorError{Phase: phase, Err: fmt.Errorf("%s: %w: %s", cmdline, err, stderr.String())}
	}

	if err := json.Unmarshal(stdout.Bytes(), output); err != nil {
		return &ExecutorError{Phase: phase, Err: fmt.Errorf("decode artifact: %w", err)}
	}
	return nil
}

// ExternalPlanner invokes ExternalConfig.PlannerCmd as the Planner.
type ExternalPlanner struct {
	Cmd     string
	Allowed []string
}

func (e ExternalPlanner) Plan(ctx context.Context, pc PlanContext) (PlanArtifact, error) {
	var out PlanArtifact
	err := runExternal(ctx, "planner", e.Cmd, e.Allowed, pc, &out)
	return out, err
}

// ExternalImplementor invokes ExternalConfig.ImplementorCmd as the Implementor.
type ExternalImplementor struct {
	Cmd     string
	Allowed []string
}

func (e ExternalImplementor) ImplementStep(ctx context.Context, sc StepContext) (ImplementorStepResult, error) {
	var out ImplementorStepResult
	err := runExternal(ctx, "implementor", e.Cmd, e.Allowed, sc, &out)
	return out, err
}

// ExternalReviewer invokes ExternalConfig.ReviewerCmd as the Reviewer.
type ExternalReviewer struct {
	Cmd     string
	Allowed []string
}

func (e ExternalReviewer) Review(ctx context.Context, rc ReviewContext) (ReviewArtifact, error) {
	var out ReviewArtifact
	err := runExternal(ctx, "reviewer", e.Cmd, e.Allowed, rc, &out)
	return out, err
}

// ExternalTester invokes ExternalConfig.TesterCmd as the Tester.
type ExternalTester struct {
	Cmd     string
	Allowed []string
}

func (e ExternalTester) Test(ctx context.Context, tc TestContext) (TestArtifact, error) {
	var out TestArtifact
	err := runExternal(ctx, "tester", e.Cmd, e.Allowed, tc, &out)
	return out, err
}

// Executors builds the four phase executors this config describes.
func (c ExternalConfig) Executors() (Planner, Implementor, Reviewer, Tester) {
	return ExternalPlanner{Cmd: c.PlannerCmd, Allowed: c.AllowedCommands},
		ExternalImplementor{Cmd: c.ImplementorCmd, Allowed: c.AllowedCommands},
		ExternalReviewer{Cmd: c.ReviewerCmd, Allowed: c.AllowedCommands},
		ExternalTester{Cmd: c.TesterCmd, Allowed: c.AllowedCommands}
}
