//go:build linux

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"codearena/internal/judge/sandbox/result"
	"codearena/internal/judge/sandbox/spec"
	"codearena/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// waitDelay bounds how long Wait keeps draining pipes after the process
// group is gone.
const waitDelay = 2 * time.Second

type linuxEngine struct {
	cfg       Config
	registry  map[string]*runHandles
	registryM sync.Mutex
}

type runHandles struct {
	pgids   map[int]struct{}
	cgroups map[string]struct{}
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	cfg = cfg.withDefaults()
	if cfg.EnableSeccomp && cfg.HelperPath == "" {
		return nil, fmt.Errorf("seccomp requires the sandbox helper")
	}
	if cfg.RootFS != "" && (cfg.HelperPath == "" || !cfg.EnableNamespaces) {
		return nil, fmt.Errorf("rootfs requires the sandbox helper with namespaces enabled")
	}
	return &linuxEngine{
		cfg:      cfg,
		registry: make(map[string]*runHandles),
	}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return result.RunResult{Cancelled: true, ExitCode: -1}, nil
	}

	cgroupPath := ""
	if e.cfg.CgroupRoot != "" {
		path, cleanup, err := createRunCgroup(e.cfg.CgroupRoot, runSpec.SubmissionID, runSpec.TaskID)
		if err != nil {
			return result.RunResult{}, fmt.Errorf("create cgroup: %w", err)
		}
		defer cleanup()
		if err := applyCgroupLimits(path, runSpec.Limits); err != nil {
			return result.RunResult{}, fmt.Errorf("apply cgroup limits: %w", err)
		}
		cgroupPath = path
	}

	overflow := make(chan struct{})
	var overflowOnce sync.Once
	stdout := newCappedBuffer(e.stdoutLimit(runSpec.Limits), func() {
		overflowOnce.Do(func() { close(overflow) })
	})
	stderr := newCappedBuffer(e.cfg.StderrMaxBytes, nil)

	cmd, closeStdin, err := e.command(runSpec)
	if err != nil {
		return result.RunResult{}, err
	}
	defer closeStdin()
	cmd.SysProcAttr = buildSysProcAttr(e.cfg.EnableNamespaces, !e.cfg.AllowNetwork)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{}, fmt.Errorf("start process: %w", err)
	}
	pid := cmd.Process.Pid
	e.register(runSpec.SubmissionID, pid, cgroupPath)
	defer e.unregister(runSpec.SubmissionID, pid, cgroupPath)

	if cgroupPath != "" {
		if err := addProcessToCgroup(cgroupPath, pid); err != nil {
			logger.Warn(ctx, "add process to cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}
	if e.cfg.HelperPath == "" {
		applyDirectRlimits(ctx, pid, runSpec.Limits)
	}

	var timedOut, cancelled, tooLarge atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if wall := durationFromMs(runSpec.Limits.WallTimeMs); wall > 0 {
			t := time.NewTimer(wall)
			defer t.Stop()
			wallTimer = t.C
		}
		select {
		case <-ctx.Done():
			cancelled.Store(true)
		case <-wallTimer:
			timedOut.Store(true)
		case <-overflow:
			tooLarge.Store(true)
		case <-done:
			return
		}
		killProcessGroup(pid)
		if cgroupPath != "" {
			_ = killCgroup(cgroupPath)
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	elapsed := time.Since(start).Milliseconds()

	state := cmd.ProcessState
	res := result.RunResult{
		ExitCode:       exitCode(waitErr, state),
		ElapsedMs:      elapsed,
		MemoryKB:       memoryPeakKB(cgroupPath, state),
		Stdout:         stdout.String(),
		Stderr:         stderr.String(),
		TimedOut:       timedOut.Load(),
		OutputTooLarge: tooLarge.Load() || stdout.Overflowed(),
		OomKilled:      wasOomKilled(cgroupPath),
		Cancelled:      cancelled.Load(),
	}
	if cpu := cpuTimeMs(state); runSpec.Limits.CPUTimeMs > 0 && cpu > runSpec.Limits.CPUTimeMs {
		res.TimedOut = true
	}
	if state != nil && signalled(state, syscall.SIGXCPU) {
		res.TimedOut = true
	}
	if e.cfg.HelperPath != "" && res.ExitCode == HelperFailureExit && strings.HasPrefix(res.Stderr, HelperPrefix) {
		return res, fmt.Errorf("sandbox helper: %s", strings.TrimSpace(strings.TrimPrefix(res.Stderr, HelperPrefix)))
	}
	if waitErr != nil && state == nil {
		return res, fmt.Errorf("wait process: %w", waitErr)
	}
	return res, nil
}

// command builds either the direct command or the helper invocation.
func (e *linuxEngine) command(runSpec spec.RunSpec) (*exec.Cmd, func(), error) {
	if e.cfg.HelperPath != "" {
		req := initRequest{
			RunSpec:       runSpec,
			Isolation:     e.cfg.isolation(),
			EnableSeccomp: e.cfg.EnableSeccomp,
			EnableNs:      e.cfg.EnableNamespaces,
		}
		cmd := exec.Command(e.cfg.HelperPath)
		cmd.Stdin = jsonToPipe(req)
		return cmd, func() {}, nil
	}

	path, err := resolveCommand(runSpec.Cmd[0], runSpec.Env)
	if err != nil {
		return nil, nil, err
	}
	cmd := exec.Command(path, runSpec.Cmd[1:]...)
	cmd.Args[0] = runSpec.Cmd[0]
	cmd.Dir = runSpec.WorkDir
	cmd.Env = append([]string{}, runSpec.Env...)
	if runSpec.StdinPath == "" {
		return cmd, func() {}, nil
	}
	stdin, err := os.Open(runSpec.StdinPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open stdin: %w", err)
	}
	cmd.Stdin = stdin
	return cmd, func() { _ = stdin.Close() }, nil
}

// resolveCommand looks the program up on the PATH the process will see, not
// the server's own.
func resolveCommand(name string, env []string) (string, error) {
	if strings.Contains(name, "/") {
		return name, nil
	}
	for i := len(env) - 1; i >= 0; i-- {
		if v, ok := strings.CutPrefix(env[i], "PATH="); ok {
			for _, dir := range strings.Split(v, ":") {
				if dir == "" {
					continue
				}
				candidate := dir + "/" + name
				if info, err := os.Stat(candidate); err == nil && !info.IsDir() && info.Mode()&0o111 != 0 {
					return candidate, nil
				}
			}
			break
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("resolve command %q: %w", name, err)
	}
	return path, nil
}

func (e *linuxEngine) stdoutLimit(limits spec.ResourceLimit) int64 {
	if limits.OutputBytes > 0 {
		return limits.OutputBytes
	}
	return e.cfg.StdoutMaxBytes
}

func (e *linuxEngine) KillSubmission(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	pgids, cgroups := e.snapshot(submissionID)
	for _, pgid := range pgids {
		killProcessGroup(pgid)
	}
	for _, cgroupPath := range cgroups {
		if err := killCgroup(cgroupPath); err != nil {
			logger.Warn(ctx, "kill cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}
	return nil
}

func (e *linuxEngine) register(submissionID string, pgid int, cgroupPath string) {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	h, ok := e.registry[submissionID]
	if !ok {
		h = &runHandles{pgids: map[int]struct{}{}, cgroups: map[string]struct{}{}}
		e.registry[submissionID] = h
	}
	h.pgids[pgid] = struct{}{}
	if cgroupPath != "" {
		h.cgroups[cgroupPath] = struct{}{}
	}
}

func (e *linuxEngine) unregister(submissionID string, pgid int, cgroupPath string) {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	h, ok := e.registry[submissionID]
	if !ok {
		return
	}
	delete(h.pgids, pgid)
	delete(h.cgroups, cgroupPath)
	if len(h.pgids) == 0 && len(h.cgroups) == 0 {
		delete(e.registry, submissionID)
	}
}

func (e *linuxEngine) snapshot(submissionID string) ([]int, []string) {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	h, ok := e.registry[submissionID]
	if !ok {
		return nil, nil
	}
	pgids := make([]int, 0, len(h.pgids))
	for p := range h.pgids {
		pgids = append(pgids, p)
	}
	cgroups := make([]string, 0, len(h.cgroups))
	for c := range h.cgroups {
		cgroups = append(cgroups, c)
	}
	return pgids, cgroups
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
}

// applyDirectRlimits sets limits on an already started child. The child may
// run briefly before they apply, which the wall timer covers.
func applyDirectRlimits(ctx context.Context, pid int, limits spec.ResourceLimit) {
	set := func(resource int, value uint64) {
		lim := &unix.Rlimit{Cur: value, Max: value}
		if err := unix.Prlimit(pid, resource, lim, nil); err != nil && !errors.Is(err, unix.ESRCH) {
			logger.Warn(ctx, "set rlimit failed", zap.Int("resource", resource), zap.Error(err))
		}
	}
	if limits.CPUTimeMs > 0 {
		// Rounded up with a second of slack; measured CPU time decides the verdict.
		set(unix.RLIMIT_CPU, uint64((limits.CPUTimeMs+999)/1000+1))
	}
	if limits.StackMB > 0 {
		set(unix.RLIMIT_STACK, uint64(limits.StackMB)*1024*1024)
	}
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.SubmissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	if runSpec.TaskID == "" {
		return fmt.Errorf("task id is required")
	}
	if runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(runSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	return nil
}

func jsonToPipe(req initRequest) io.Reader {
	reader, writer := io.Pipe()
	go func() {
		err := json.NewEncoder(writer).Encode(req)
		_ = writer.CloseWithError(err)
	}()
	return reader
}

// buildSysProcAttr isolates the child. A disallowed network always gets a
// fresh user and network namespace, even with the other namespaces off.
func buildSysProcAttr(enableNamespaces, disableNetwork bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	var cloneFlags uintptr
	if enableNamespaces {
		cloneFlags |= syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC
	}
	if disableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	if cloneFlags == 0 {
		return attr
	}
	cloneFlags |= syscall.CLONE_NEWUSER

	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getuid(),
		Size:        1,
	}}
	attr.GidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      os.Getgid(),
		Size:        1,
	}}
	return attr
}

func exitCode(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func signalled(state *os.ProcessState, sig syscall.Signal) bool {
	ws, ok := state.Sys().(syscall.WaitStatus)
	return ok && ws.Signaled() && ws.Signal() == sig
}

func durationFromMs(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func cpuTimeMs(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	return (state.UserTime() + state.SystemTime()).Milliseconds()
}
