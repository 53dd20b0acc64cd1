// Package runner compiles a composed program once per submission and runs
// its test cases in the sandbox engine.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/shlex"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"codearena/internal/judge/harness"
	"codearena/internal/judge/lang"
	"codearena/internal/judge/sandbox/engine"
	"codearena/internal/judge/sandbox/observer"
	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/spec"
	appErr "codearena/pkg/errors"
	"codearena/pkg/utils/logger"
)

const (
	compileTaskID      = "compile"
	compileLogMaxBytes = 16 * 1024
)

// LanguageResolver resolves the command table entry of a language.
type LanguageResolver interface {
	GetLanguageSpec(ctx context.Context, id lang.Language) (lang.Spec, error)
}

// Config holds runner settings.
type Config struct {
	// WorkRoot is the host directory that holds per-execution scratch dirs.
	WorkRoot string
	// ContainerWorkDir, when set, is where the scratch dir is bind-mounted
	// inside the sandbox and what command templates see as {dir}.
	ContainerWorkDir string
	// MaxTimeLimitMs is the wall-clock ceiling and the fallback when neither
	// the case nor the challenge sets a limit.
	MaxTimeLimitMs int64
	RunLimits      spec.ResourceLimit
	CompileLimits  spec.ResourceLimit
	// SystemErrorRetries is how many times an engine failure is retried.
	SystemErrorRetries int
}

// Runner prepares sessions backed by the sandbox engine.
type Runner struct {
	eng     engine.Engine
	langs   LanguageResolver
	metrics observer.MetricsRecorder
	cfg     Config
}

// NewRunner creates a runner.
func NewRunner(eng engine.Engine, langs LanguageResolver, cfg Config, metrics observer.MetricsRecorder) (*Runner, error) {
	if eng == nil {
		return nil, fmt.Errorf("sandbox engine is required")
	}
	if langs == nil {
		return nil, fmt.Errorf("language resolver is required")
	}
	if cfg.WorkRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	if cfg.SystemErrorRetries < 0 {
		cfg.SystemErrorRetries = 0
	}
	return &Runner{eng: eng, langs: langs, metrics: metrics, cfg: cfg}, nil
}

// Session is one scratch directory holding a compiled program. It is not
// safe for concurrent Run calls.
type Session struct {
	r            *Runner
	submissionID string
	lang         lang.Spec
	hostDir      string
	workDir      string
	runCmd       []string
	env          []string
	compile      result.CompileResult

	closeOnce sync.Once
	closeErr  error
}

// Prepare writes the program into a fresh scratch directory and compiles it.
// A compile failure is reported in Session.Compile, not as an error. The
// caller must Close the session.
func (r *Runner) Prepare(ctx context.Context, submissionID string, program *harness.Program) (*Session, error) {
	if submissionID == "" {
		return nil, appErr.ValidationError("submission_id", "required")
	}
	if program == nil || len(program.Files) == 0 {
		return nil, appErr.ValidationError("program", "required")
	}
	langSpec, err := r.langs.GetLanguageSpec(ctx, program.Language)
	if err != nil {
		return nil, err
	}

	hostDir := filepath.Join(r.cfg.WorkRoot, uuid.NewString())
	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "create scratch dir failed")
	}
	s := &Session{
		r:            r,
		submissionID: submissionID,
		lang:         langSpec,
		hostDir:      hostDir,
		workDir:      hostDir,
	}
	if r.cfg.ContainerWorkDir != "" {
		s.workDir = r.cfg.ContainerWorkDir
	}
	ready := false
	defer func() {
		if !ready {
			_ = s.Close()
		}
	}()

	names := make([]string, 0, len(program.Files))
	for _, f := range program.Files {
		if f.Name == "" || strings.ContainsAny(f.Name, `/\`) {
			return nil, appErr.Newf(appErr.JudgeSystemError, "invalid program file name %q", f.Name)
		}
		if err := os.WriteFile(filepath.Join(hostDir, f.Name), []byte(f.Content), 0o644); err != nil {
			return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "write program file failed")
		}
		names = append(names, f.Name)
	}

	vars := s.templateVars(names)
	s.env = expandAll(langSpec.Env, vars)
	if s.runCmd, err = buildCommand(langSpec.RunCmdTpl, vars); err != nil {
		return nil, err
	}

	if !langSpec.CompileEnabled {
		s.compile = result.CompileResult{OK: true, Skipped: true}
		ready = true
		return s, nil
	}
	compileCmd, err := buildCommand(langSpec.CompileCmdTpl, vars)
	if err != nil {
		return nil, err
	}
	if s.compile, err = s.runCompile(ctx, compileCmd); err != nil {
		return nil, err
	}
	ready = true
	return s, nil
}

func (s *Session) runCompile(ctx context.Context, cmd []string) (result.CompileResult, error) {
	limits := s.r.cfg.CompileLimits
	runSpec := s.runSpec(compileTaskID, cmd, limits)
	res, err := s.r.runWithRetry(ctx, runSpec)
	if err != nil {
		return result.CompileResult{}, err
	}
	if res.Cancelled {
		return result.CompileResult{}, appErr.New(appErr.JudgeCancelled).WithMessage("compilation cancelled")
	}
	compileRes := result.CompileResult{
		OK:        res.ExitCode == 0 && !res.TimedOut,
		ExitCode:  res.ExitCode,
		ElapsedMs: res.ElapsedMs,
		Log:       compileLog(res),
	}
	if res.TimedOut {
		compileRes.Log = strings.TrimSpace(compileRes.Log + "\ncompilation timed out")
	}
	s.r.metrics.ObserveCompile(ctx, string(s.lang.ID), compileRes.OK, compileRes.ElapsedMs)
	return compileRes, nil
}

// Compile returns the compilation outcome of the session.
func (s *Session) Compile() result.CompileResult {
	return s.compile
}

// Run executes test case caseIndex. limits carries the case or challenge
// override, which wins over the runner defaults; the time ceiling caps both.
func (s *Session) Run(ctx context.Context, caseIndex int, limits spec.ResourceLimit) (result.RunResult, error) {
	if !s.compile.OK {
		return result.RunResult{}, appErr.New(appErr.CompilationError).WithMessage("program did not compile")
	}
	effective := s.r.runLimits(limits, s.lang)
	cmd := append(append([]string{}, s.runCmd...), strconv.Itoa(caseIndex))
	runSpec := s.runSpec("case-"+strconv.Itoa(caseIndex), cmd, effective)
	res, err := s.r.runWithRetry(ctx, runSpec)
	if err != nil {
		s.r.metrics.ObserveRun(ctx, string(s.lang.ID), string(result.KindSystemError), res.ElapsedMs, res.MemoryKB)
		return res, err
	}
	s.r.metrics.ObserveRun(ctx, string(s.lang.ID), string(result.Classify(res, effective.MemoryMB)), res.ElapsedMs, res.MemoryKB)
	return res, nil
}

// Limits returns the limits a run with the given override would get.
func (s *Session) Limits(override spec.ResourceLimit) spec.ResourceLimit {
	return s.r.runLimits(override, s.lang)
}

// Dir returns the host scratch directory.
func (s *Session) Dir() string {
	return s.hostDir
}

// Close removes the scratch directory. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if err := os.RemoveAll(s.hostDir); err != nil {
			s.closeErr = appErr.Wrapf(err, appErr.JudgeSystemError, "remove scratch dir failed")
		}
	})
	return s.closeErr
}

// Kill stops every process the submission has in the sandbox.
func (r *Runner) Kill(ctx context.Context, submissionID string) error {
	return r.eng.KillSubmission(ctx, submissionID)
}

func (r *Runner) runWithRetry(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	res, err := r.eng.Run(ctx, runSpec)
	for attempt := 0; err != nil && attempt < r.cfg.SystemErrorRetries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		logger.Warn(ctx, "sandbox run failed, retrying",
			zap.String("submission_id", runSpec.SubmissionID),
			zap.String("task", runSpec.TaskID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		res, err = r.eng.Run(ctx, runSpec)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return result.RunResult{Cancelled: true, ExitCode: -1}, nil
		}
		return res, appErr.Wrapf(err, appErr.JudgeSystemError, "sandbox %s failed", runSpec.TaskID)
	}
	return res, nil
}

func (s *Session) runSpec(taskID string, cmd []string, limits spec.ResourceLimit) spec.RunSpec {
	runSpec := spec.RunSpec{
		SubmissionID: s.submissionID,
		TaskID:       taskID,
		WorkDir:      s.workDir,
		Cmd:          cmd,
		Env:          s.env,
		Limits:       limits,
	}
	if s.r.cfg.ContainerWorkDir != "" {
		runSpec.BindMounts = []spec.MountSpec{{Source: s.hostDir, Target: s.r.cfg.ContainerWorkDir}}
	}
	return runSpec
}

func (s *Session) templateVars(names []string) map[string]string {
	paths := make([]string, 0, len(names))
	for _, n := range names {
		paths = append(paths, filepath.Join(s.workDir, n))
	}
	return map[string]string{
		"{src}":  strings.Join(paths, " "),
		"{main}": filepath.Join(s.workDir, s.lang.MainFile),
		"{bin}":  filepath.Join(s.workDir, s.lang.BinaryFile),
		"{dir}":  s.workDir,
	}
}

func expand(tpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

func expandAll(items []string, vars map[string]string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, expand(it, vars))
	}
	return out
}

func buildCommand(tpl string, vars map[string]string) ([]string, error) {
	if strings.TrimSpace(tpl) == "" {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("command template is required")
	}
	fields, err := shlex.Split(expand(tpl, vars))
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.JudgeSystemError, "parse command template failed")
	}
	if len(fields) == 0 {
		return nil, appErr.New(appErr.JudgeSystemError).WithMessage("command is empty after expansion")
	}
	return fields, nil
}

// runLimits resolves the limits of one run. Language multipliers only stretch
// the runner defaults; a case or challenge limit is enforced as written.
func (r *Runner) runLimits(override spec.ResourceLimit, l lang.Spec) spec.ResourceLimit {
	limits := applyMultipliers(r.cfg.RunLimits, l).Merge(override)
	if ceiling := r.cfg.MaxTimeLimitMs; ceiling > 0 && (limits.WallTimeMs <= 0 || limits.WallTimeMs > ceiling) {
		limits.WallTimeMs = ceiling
	}
	return limits
}

func applyMultipliers(limits spec.ResourceLimit, l lang.Spec) spec.ResourceLimit {
	limits.CPUTimeMs = scaleLimit(limits.CPUTimeMs, l.TimeMultiplier)
	limits.WallTimeMs = scaleLimit(limits.WallTimeMs, l.TimeMultiplier)
	limits.MemoryMB = scaleLimit(limits.MemoryMB, l.MemoryMultiplier)
	return limits
}

func scaleLimit(value int64, multiplier float64) int64 {
	if value <= 0 {
		return 0
	}
	if multiplier <= 0 {
		return value
	}
	return int64(math.Ceil(float64(value) * multiplier))
}

func compileLog(res result.RunResult) string {
	log := strings.TrimSpace(res.Stderr)
	if out := strings.TrimSpace(res.Stdout); out != "" {
		if log != "" {
			log += "\n"
		}
		log += out
	}
	if len(log) > compileLogMaxBytes {
		log = log[:compileLogMaxBytes]
	}
	return log
}
