package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Output != "table" {
		t.Errorf("Default Output = %q, want %q", cfg.Output, "table")
	}
	if cfg.BaseDir != ".agents/aoq" {
		t.Errorf("Default BaseDir = %q, want %q", cfg.BaseDir, ".agents/aoq")
	}
	if cfg.Verbose {
		t.Error("Default Verbose = true, want false")
	}
	if cfg.Engine.LeaseTimeout != 5*time.Minute {
		t.Errorf("Default Engine.LeaseTimeout = %v, want %v", cfg.Engine.LeaseTimeout, 5*time.Minute)
	}
	if cfg.Engine.PollInterval != time.Second {
		t.Errorf("Default Engine.PollInterval = %v, want %v", cfg.Engine.PollInterval, time.Second)
	}
	if cfg.Engine.RequeueSleep != 200*time.Millisecond {
		t.Errorf("Default Engine.RequeueSleep = %v, want %v", cfg.Engine.RequeueSleep, 200*time.Millisecond)
	}
	if cfg.Engine.HeartbeatInterval != 15*time.Second {
		t.Errorf("Default Engine.HeartbeatInterval = %v, want %v", cfg.Engine.HeartbeatInterval, 15*time.Second)
	}
	if cfg.Engine.MaxAttempts != 3 {
		t.Errorf("Default Engine.MaxAttempts = %d, want 3", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.MaxPlanRetries != 2 {
		t.Errorf("Default Engine.MaxPlanRetries = %d, want 2", cfg.Engine.MaxPlanRetries)
	}
	if cfg.Engine.MaxImplementorRetries != 3 {
		t.Errorf("Default Engine.MaxImplementorRetries = %d, want 3", cfg.Engine.MaxImplementorRetries)
	}
	if cfg.Engine.MaxReviewRetries != 3 {
		t.Errorf("Default Engine.MaxReviewRetries = %d, want 3", cfg.Engine.MaxReviewRetries)
	}
}

func TestRootPathHelpers_DefaultUnderBaseDir(t *testing.T) {
	cfg := Default()
	cfg.BaseDir = "/data/aoq"

	if got, want := cfg.RunsRootPath(), filepath.Join("/data/aoq", "runs"); got != want {
		t.Errorf("RunsRootPath() = %q, want %q", got, want)
	}
	if got, want := cfg.WorkspacesRootPath(), filepath.Join("/data/aoq", "workspaces"); got != want {
		t.Errorf("WorkspacesRootPath() = %q, want %q", got, want)
	}
	if got, want := cfg.QueueDBFilePath(), filepath.Join("/data/aoq", "queue.db"); got != want {
		t.Errorf("QueueDBFilePath() = %q, want %q", got, want)
	}
}

func TestRootPathHelpers_ExplicitOverride(t *testing.T) {
	cfg := Default()
	cfg.Engine.RunsRoot = "/custom/runs"
	cfg.Engine.WorkspacesRoot = "/custom/workspaces"
	cfg.Engine.QueueDBPath = "/custom/queue.db"

	if got := cfg.RunsRootPath(); got != "/custom/runs" {
		t.Errorf("RunsRootPath() = %q, want /custom/runs", got)
	}
	if got := cfg.WorkspacesRootPath(); got != "/custom/workspaces" {
		t.Errorf("WorkspacesRootPath() = %q, want /custom/workspaces", got)
	}
	if got := cfg.QueueDBFilePath(); got != "/custom/queue.db" {
		t.Errorf("QueueDBFilePath() = %q, want /custom/queue.db", got)
	}
}

func TestMerge(t *testing.T) {
	dst := Default()
	src := &Config{
		Output:  "json",
		BaseDir: "/custom/path",
	}

	result := merge(dst, src)

	if result.Output != "json" {
		t.Errorf("merge Output = %q, want %q", result.Output, "json")
	}
	if result.BaseDir != "/custom/path" {
		t.Errorf("merge BaseDir = %q, want %q", result.BaseDir, "/custom/path")
	}
	if result.Engine.MaxAttempts != 3 {
		t.Errorf("merge preserved Engine.MaxAttempts = %d, want 3", result.Engine.MaxAttempts)
	}
}

func TestMerge_EngineOverrides(t *testing.T) {
	dst := Default()
	src := &Config{
		Engine: EngineConfig{
			RunsRoot:              "/r",
			WorkspacesRoot:        "/w",
			QueueDBPath:           "/q.db",
			LeaseTimeout:          10 * time.Minute,
			PollInterval:          2 * time.Second,
			RequeueSleep:          500 * time.Millisecond,
			HeartbeatInterval:     30 * time.Second,
			MaxAttempts:           5,
			MaxPlanRetries:        4,
			MaxImplementorRetries: 6,
			MaxReviewRetries:      7,
		},
	}

	result := merge(dst, src)

	if result.Engine.RunsRoot != "/r" {
		t.Errorf("merge Engine.RunsRoot = %q, want /r", result.Engine.RunsRoot)
	}
	if result.Engine.WorkspacesRoot != "/w" {
		t.Errorf("merge Engine.WorkspacesRoot = %q, want /w", result.Engine.WorkspacesRoot)
	}
	if result.Engine.QueueDBPath != "/q.db" {
		t.Errorf("merge Engine.QueueDBPath = %q, want /q.db", result.Engine.QueueDBPath)
	}
	if result.Engine.LeaseTimeout != 10*time.Minute {
		t.Errorf("merge Engine.LeaseTimeout = %v, want 10m", result.Engine.LeaseTimeout)
	}
	if result.Engine.MaxAttempts != 5 {
		t.Errorf("merge Engine.MaxAttempts = %d, want 5", result.Engine.MaxAttempts)
	}
	if result.Engine.MaxPlanRetries != 4 {
		t.Errorf("merge Engine.MaxPlanRetries = %d, want 4", result.Engine.MaxPlanRetries)
	}
	if result.Engine.MaxImplementorRetries != 6 {
		t.Errorf("merge Engine.MaxImplementorRetries = %d, want 6", result.Engine.MaxImplementorRetries)
	}
	if result.Engine.MaxReviewRetries != 7 {
		t.Errorf("merge Engine.MaxReviewRetries = %d, want 7", result.Engine.MaxReviewRetries)
	}
}

func TestMerge_EnginePreservedWhenZero(t *testing.T) {
	dst := Default()
	src := &Config{Output: "json"}

	result := merge(dst, src)

	if result.Engine.MaxAttempts != 3 {
		t.Errorf("merge should preserve default Engine.MaxAttempts, got %d", result.Engine.MaxAttempts)
	}
	if result.Engine.LeaseTimeout != 5*time.Minute {
		t.Errorf("merge should preserve default Engine.LeaseTimeout, got %v", result.Engine.LeaseTimeout)
	}
}

func TestMerge_VerboseOverride(t *testing.T) {
	dst := Default()
	src := &Config{Verbose: true}

	result := merge(dst, src)

	if !result.Verbose {
		t.Error("merge Verbose = false, want true")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("AGENTOPS_OUTPUT", "yaml")
	t.Setenv("AGENTOPS_VERBOSE", "true")
	t.Setenv("AGENTOPS_MAX_ATTEMPTS", "7")
	t.Setenv("AGENTOPS_LEASE_TIMEOUT", "2m")

	cfg := Default()
	cfg = applyEnv(cfg)

	if cfg.Output != "yaml" {
		t.Errorf("applyEnv Output = %q, want %q", cfg.Output, "yaml")
	}
	if !cfg.Verbose {
		t.Error("applyEnv Verbose = false, want true")
	}
	if cfg.Engine.MaxAttempts != 7 {
		t.Errorf("applyEnv Engine.MaxAttempts = %d, want 7", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.LeaseTimeout != 2*time.Minute {
		t.Errorf("applyEnv Engine.LeaseTimeout = %v, want 2m", cfg.Engine.LeaseTimeout)
	}
}

func TestApplyEnv_InvalidDurationIgnored(t *testing.T) {
	t.Setenv("AGENTOPS_LEASE_TIMEOUT", "not-a-duration")

	cfg := Default()
	cfg = applyEnv(cfg)

	if cfg.Engine.LeaseTimeout != 5*time.Minute {
		t.Errorf("applyEnv should ignore invalid duration, got %v", cfg.Engine.LeaseTimeout)
	}
}

func TestApplyEnv_InvalidIntIgnored(t *testing.T) {
	t.Setenv("AGENTOPS_MAX_ATTEMPTS", "not-a-number")

	cfg := Default()
	cfg = applyEnv(cfg)

	if cfg.Engine.MaxAttempts != 3 {
		t.Errorf("applyEnv should ignore invalid int, got %d", cfg.Engine.MaxAttempts)
	}
}

func TestApplyEnv_VerboseVariants(t *testing.T) {
	tests := []struct {
		name    string
		envVal  string
		wantVer bool
	}{
		{name: "true", envVal: "true", wantVer: true},
		{name: "1", envVal: "1", wantVer: true},
		{name: "false", envVal: "false", wantVer: false},
		{name: "empty", envVal: "", wantVer: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("AGENTOPS_VERBOSE", tt.envVal)

			cfg := Default()
			cfg = applyEnv(cfg)

			if cfg.Verbose != tt.wantVer {
				t.Errorf("applyEnv Verbose = %v, want %v for AGENTOPS_VERBOSE=%q", cfg.Verbose, tt.wantVer, tt.envVal)
			}
		})
	}
}

func TestLoadFromPath(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
output: json
base_dir: /custom/olympus
verbose: true
engine:
  max_review_retries: 5
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadFromPath(configPath)
	if err != nil {
		t.Fatalf("loadFromPath() error = %v", err)
	}

	if cfg.Output != "json" {
		t.Errorf("loadFromPath Output = %q, want %q", cfg.Output, "json")
	}
	if cfg.BaseDir != "/custom/olympus" {
		t.Errorf("loadFromPath BaseDir = %q, want %q", cfg.BaseDir, "/custom/olympus")
	}
	if !cfg.Verbose {
		t.Error("loadFromPath Verbose = false, want true")
	}
	if cfg.Engine.MaxReviewRetries != 5 {
		t.Errorf("loadFromPath Engine.MaxReviewRetries = %d, want 5", cfg.Engine.MaxReviewRetries)
	}
}

func TestLoadFromPath_NotExists(t *testing.T) {
	cfg, err := loadFromPath("/nonexistent/config.yaml")
	if cfg != nil {
		t.Errorf("loadFromPath for nonexistent file should return nil config")
	}
	if err == nil {
		t.Errorf("loadFromPath for nonexistent file should return error")
	}
}

func TestLoadFromPath_Empty(t *testing.T) {
	cfg, err := loadFromPath("")
	if cfg != nil || err != nil {
		t.Errorf("loadFromPath(\"\") = %v, %v; want nil, nil", cfg, err)
	}
}

func TestLoadFromPath_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `{{{invalid yaml`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadFromPath(configPath)
	if err == nil {
		t.Error("loadFromPath for invalid YAML should return error")
	}
	if cfg != nil {
		t.Error("loadFromPath for invalid YAML should return nil config")
	}
}

func TestResolve(t *testing.T) {
	t.Setenv("AGENTOPS_CONFIG", "")
	rc := Resolve("json", "/flag/path", true)

	if rc.Output.Value != "json" {
		t.Errorf("Resolve Output.Value = %v, want %q", rc.Output.Value, "json")
	}
	if rc.Output.Source != SourceFlag {
		t.Errorf("Resolve Output.Source = %v, want %v", rc.Output.Source, SourceFlag)
	}
	if rc.BaseDir.Value != "/flag/path" {
		t.Errorf("Resolve BaseDir.Value = %v, want %q", rc.BaseDir.Value, "/flag/path")
	}
	if rc.Verbose.Value != true {
		t.Errorf("Resolve Verbose.Value = %v, want true", rc.Verbose.Value)
	}
}

func TestResolve_Defaults(t *testing.T) {
	t.Setenv("AGENTOPS_CONFIG", "")
	for _, key := range []string{"AGENTOPS_OUTPUT", "AGENTOPS_BASE_DIR", "AGENTOPS_VERBOSE"} {
		t.Setenv(key, "")
	}

	rc := Resolve("", "", false)

	if rc.Output.Value != "table" {
		t.Errorf("Resolve default Output.Value = %v, want %q", rc.Output.Value, "table")
	}
	if rc.Verbose.Value != false {
		t.Errorf("Resolve default Verbose.Value = %v, want false", rc.Verbose.Value)
	}
}

func TestResolve_EnvOverride(t *testing.T) {
	t.Setenv("AGENTOPS_CONFIG", "")
	t.Setenv("AGENTOPS_OUTPUT", "yaml")
	t.Setenv("AGENTOPS_BASE_DIR", "/env/path")
	t.Setenv("AGENTOPS_VERBOSE", "1")

	rc := Resolve("", "", false)

	if rc.Output.Value != "yaml" {
		t.Errorf("Resolve env Output.Value = %v, want %q", rc.Output.Value, "yaml")
	}
	if rc.Output.Source != SourceEnv {
		t.Errorf("Resolve env Output.Source = %v, want %v", rc.Output.Source, SourceEnv)
	}
	if rc.BaseDir.Value != "/env/path" {
		t.Errorf("Resolve env BaseDir.Value = %v, want %q", rc.BaseDir.Value, "/env/path")
	}
	if rc.Verbose.Value != true {
		t.Errorf("Resolve env Verbose.Value = %v, want true", rc.Verbose.Value)
	}
}

func TestResolveStringField(t *testing.T) {
	tests := []struct {
		name       string
		home       string
		project    string
		env        string
		flag       string
		def        string
		wantValue  string
		wantSource Source
	}{
		{name: "default only", def: "table", wantValue: "table", wantSource: SourceDefault},
		{name: "home overrides default", home: "json", def: "table", wantValue: "json", wantSource: SourceHome},
		{name: "project overrides home", home: "json", project: "yaml", def: "table", wantValue: "yaml", wantSource: SourceProject},
		{name: "env overrides project", home: "json", project: "yaml", env: "csv", def: "table", wantValue: "csv", wantSource: SourceEnv},
		{name: "flag overrides everything", home: "json", project: "yaml", env: "csv", flag: "text", def: "table", wantValue: "text", wantSource: SourceFlag},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveStringField(tt.home, tt.project, tt.env, tt.flag, tt.def)
			if got.Value != tt.wantValue {
				t.Errorf("resolveStringField() Value = %v, want %v", got.Value, tt.wantValue)
			}
			if got.Source != tt.wantSource {
				t.Errorf("resolveStringField() Source = %v, want %v", got.Source, tt.wantSource)
			}
		})
	}
}

func TestLoad_WithFlagOverrides(t *testing.T) {
	t.Setenv("AGENTOPS_CONFIG", "")
	t.Setenv("AGENTOPS_OUTPUT", "")
	t.Setenv("AGENTOPS_BASE_DIR", "")
	t.Setenv("AGENTOPS_VERBOSE", "")

	overrides := &Config{
		Output:  "json",
		BaseDir: "/flag/base",
		Verbose: true,
	}

	cfg, err := Load(overrides)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Output != "json" {
		t.Errorf("Load Output = %q, want %q", cfg.Output, "json")
	}
	if cfg.BaseDir != "/flag/base" {
		t.Errorf("Load BaseDir = %q, want %q", cfg.BaseDir, "/flag/base")
	}
	if !cfg.Verbose {
		t.Error("Load Verbose = false, want true")
	}
}

func TestLoad_NilOverrides(t *testing.T) {
	t.Setenv("AGENTOPS_CONFIG", "")
	t.Setenv("AGENTOPS_OUTPUT", "")
	t.Setenv("AGENTOPS_BASE_DIR", "")
	t.Setenv("AGENTOPS_VERBOSE", "")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Output != "table" {
		t.Errorf("Load nil Output = %q, want %q", cfg.Output, "table")
	}
	if cfg.BaseDir != ".agents/aoq" {
		t.Errorf("Load nil BaseDir = %q, want %q", cfg.BaseDir, ".agents/aoq")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENTOPS_CONFIG", "")
	t.Setenv("AGENTOPS_OUTPUT", "yaml")
	t.Setenv("AGENTOPS_BASE_DIR", "/env/dir")
	t.Setenv("AGENTOPS_VERBOSE", "1")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Output != "yaml" {
		t.Errorf("Load env Output = %q, want %q", cfg.Output, "yaml")
	}
	if cfg.BaseDir != "/env/dir" {
		t.Errorf("Load env BaseDir = %q, want %q", cfg.BaseDir, "/env/dir")
	}
	if !cfg.Verbose {
		t.Error("Load env Verbose = false, want true")
	}
}

func TestProjectConfigPath_UsesAgentOpsConfigEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "custom.yaml")
	t.Setenv("AGENTOPS_CONFIG", configPath)

	got := projectConfigPath()
	if got != configPath {
		t.Fatalf("projectConfigPath() = %q, want %q", got, configPath)
	}
}

func TestProjectConfigPath_DefaultFromCwd(t *testing.T) {
	t.Setenv("AGENTOPS_CONFIG", "")
	got := projectConfigPath()
	cwd, _ := os.Getwd()
	expected := filepath.Join(cwd, ".agentops", "config.yaml")
	if got != expected {
		t.Errorf("projectConfigPath() = %q, want %q", got, expected)
	}
}

func TestProjectConfigPath_WhitespaceOnlyConfig(t *testing.T) {
	t.Setenv("AGENTOPS_CONFIG", "  \t  ")
	got := projectConfigPath()
	cwd, _ := os.Getwd()
	expected := filepath.Join(cwd, ".agentops", "config.yaml")
	if got != expected {
		t.Errorf("projectConfigPath() with whitespace = %q, want %q", got, expected)
	}
}

func TestResolve_WithProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
output: yaml
base_dir: /project/base
verbose: true
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENTOPS_CONFIG", configPath)
	for _, key := range []string{"AGENTOPS_OUTPUT", "AGENTOPS_BASE_DIR", "AGENTOPS_VERBOSE"} {
		t.Setenv(key, "")
	}

	rc := Resolve("", "", false)

	if rc.Output.Value != "yaml" || rc.Output.Source != SourceProject {
		t.Errorf("Output = (%v, %v), want (yaml, %v)", rc.Output.Value, rc.Output.Source, SourceProject)
	}
	if rc.BaseDir.Value != "/project/base" || rc.BaseDir.Source != SourceProject {
		t.Errorf("BaseDir = (%v, %v), want (/project/base, %v)", rc.BaseDir.Value, rc.BaseDir.Source, SourceProject)
	}
	if rc.Verbose.Value != true || rc.Verbose.Source != SourceProject {
		t.Errorf("Verbose = (%v, %v), want (true, %v)", rc.Verbose.Value, rc.Verbose.Source, SourceProject)
	}
}

func TestResolve_FlagOverridesProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
output: yaml
base_dir: /project/base
verbose: true
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENTOPS_CONFIG", configPath)
	for _, key := range []string{"AGENTOPS_OUTPUT", "AGENTOPS_BASE_DIR", "AGENTOPS_VERBOSE"} {
		t.Setenv(key, "")
	}

	rc := Resolve("json", "/flag/dir", true)

	if rc.Output.Value != "json" || rc.Output.Source != SourceFlag {
		t.Errorf("Flag should override project: Output = (%v, %v)", rc.Output.Value, rc.Output.Source)
	}
	if rc.BaseDir.Value != "/flag/dir" || rc.BaseDir.Source != SourceFlag {
		t.Errorf("Flag should override project: BaseDir = (%v, %v)", rc.BaseDir.Value, rc.BaseDir.Source)
	}
	if rc.Verbose.Value != true || rc.Verbose.Source != SourceFlag {
		t.Errorf("Flag should override project: Verbose = (%v, %v)", rc.Verbose.Value, rc.Verbose.Source)
	}
}

func TestResolve_EnvOverridesProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
output: yaml
base_dir: /project/base
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENTOPS_CONFIG", configPath)
	t.Setenv("AGENTOPS_OUTPUT", "csv")
	t.Setenv("AGENTOPS_BASE_DIR", "/env/dir")
	t.Setenv("AGENTOPS_VERBOSE", "true")

	rc := Resolve("", "", false)

	if rc.Output.Value != "csv" || rc.Output.Source != SourceEnv {
		t.Errorf("Env should override project: Output = (%v, %v)", rc.Output.Value, rc.Output.Source)
	}
	if rc.BaseDir.Value != "/env/dir" || rc.BaseDir.Source != SourceEnv {
		t.Errorf("Env should override project: BaseDir = (%v, %v)", rc.BaseDir.Value, rc.BaseDir.Source)
	}
	if rc.Verbose.Value != true || rc.Verbose.Source != SourceEnv {
		t.Errorf("Env should override project: Verbose = (%v, %v)", rc.Verbose.Value, rc.Verbose.Source)
	}
}

func TestLoad_WithProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `
output: yaml
base_dir: /project/aoq
engine:
  max_plan_retries: 9
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AGENTOPS_CONFIG", configPath)
	for _, key := range []string{"AGENTOPS_OUTPUT", "AGENTOPS_BASE_DIR", "AGENTOPS_VERBOSE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Output != "yaml" {
		t.Errorf("Load with project config Output = %q, want %q", cfg.Output, "yaml")
	}
	if cfg.BaseDir != "/project/aoq" {
		t.Errorf("Load with project config BaseDir = %q, want %q", cfg.BaseDir, "/project/aoq")
	}
	if cfg.Engine.MaxPlanRetries != 9 {
		t.Errorf("Load with project config Engine.MaxPlanRetries = %d, want 9", cfg.Engine.MaxPlanRetries)
	}
}

func TestLoad_WithHomeConfig(t *testing.T) {
	homePath := homeConfigPath()
	if homePath == "" {
		t.Skip("cannot determine home config path")
	}

	if err := os.MkdirAll(filepath.Dir(homePath), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	origData, origErr := os.ReadFile(homePath)
	existed := origErr == nil

	content := `
output: markdown
base_dir: /home-base
verbose: true
`
	if err := os.WriteFile(homePath, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Cleanup(func() {
		if existed {
			_ = os.WriteFile(homePath, origData, 0644)
		} else {
			_ = os.Remove(homePath)
		}
	})

	t.Setenv("AGENTOPS_CONFIG", "/nonexistent/project.yaml")
	for _, key := range []string{"AGENTOPS_OUTPUT", "AGENTOPS_BASE_DIR", "AGENTOPS_VERBOSE"} {
		t.Setenv(key, "")
	}

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Output != "markdown" {
		t.Errorf("Load with home config: Output = %q, want %q", cfg.Output, "markdown")
	}
	if cfg.BaseDir != "/home-base" {
		t.Errorf("Load with home config: BaseDir = %q, want %q", cfg.BaseDir, "/home-base")
	}
	if !cfg.Verbose {
		t.Error("Load with home config: Verbose = false, want true")
	}
}

func TestResolve_WithHomeConfig(t *testing.T) {
	homePath := homeConfigPath()
	if homePath == "" {
		t.Skip("cannot determine home config path")
	}

	if err := os.MkdirAll(filepath.Dir(homePath), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	origData, origErr := os.ReadFile(homePath)
	existed := origErr == nil

	content := `
output: markdown
base_dir: /home-resolve
verbose: true
`
	if err := os.WriteFile(homePath, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Cleanup(func() {
		if existed {
			_ = os.WriteFile(homePath, origData, 0644)
		} else {
			_ = os.Remove(homePath)
		}
	})

	t.Setenv("AGENTOPS_CONFIG", "/nonexistent/project.yaml")
	for _, key := range []string{"AGENTOPS_OUTPUT", "AGENTOPS_BASE_DIR", "AGENTOPS_VERBOSE"} {
		t.Setenv(key, "")
	}

	rc := Resolve("", "", false)

	if rc.Output.Value != "markdown" || rc.Output.Source != SourceHome {
		t.Errorf("Resolve with home config: Output = (%v, %v), want (markdown, %v)",
			rc.Output.Value, rc.Output.Source, SourceHome)
	}
	if rc.BaseDir.Value != "/home-resolve" || rc.BaseDir.Source != SourceHome {
		t.Errorf("Resolve with home config: BaseDir = (%v, %v), want (/home-resolve, %v)",
			rc.BaseDir.Value, rc.BaseDir.Source, SourceHome)
	}
	if rc.Verbose.Value != true || rc.Verbose.Source != SourceHome {
		t.Errorf("Resolve with home config: Verbose = (%v, %v), want (true, %v)",
			rc.Verbose.Value, rc.Verbose.Source, SourceHome)
	}
}

// --- Benchmarks ---

func BenchmarkDefault(b *testing.B) {
	for range b.N {
		Default()
	}
}

func BenchmarkMerge(b *testing.B) {
	base := Default()
	overlay := &Config{
		Output:  "json",
		BaseDir: "/tmp/bench",
		Verbose: true,
		Engine:  EngineConfig{MaxAttempts: 5},
	}
	b.ResetTimer()
	for range b.N {
		dst := *base
		merge(&dst, overlay)
	}
}
