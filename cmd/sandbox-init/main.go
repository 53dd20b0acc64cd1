//go:build linux

// Command sandbox-init prepares an isolated environment for one judged
// process and then execs it. The run request arrives as JSON on stdin;
// stdout and stderr are inherited from the engine, which captures them.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"

	"codearena/internal/judge/sandbox/spec"
)

// Kept in sync with engine.HelperFailureExit and engine.HelperPrefix.
const (
	failureExit = 125
	prefix      = "sandbox-init: "
)

type request struct {
	RunSpec       spec.RunSpec
	Isolation     spec.Isolation
	EnableSeccomp bool
	EnableNs      bool
}

func main() {
	if err := run(os.Stdin); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, prefix+strings.ReplaceAll(err.Error(), "\n", " "))
		os.Exit(failureExit)
	}
}

func run(in io.Reader) error {
	req, err := decodeRequest(in)
	if err != nil {
		return err
	}
	if err := validateRequest(req); err != nil {
		return err
	}
	if req.EnableNs {
		if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
			return fmt.Errorf("make mount private: %w", err)
		}
		if err := applyBindMounts(req.Isolation.RootFS, req.RunSpec.BindMounts); err != nil {
			return err
		}
		if err := enterRoot(req.Isolation.RootFS); err != nil {
			return err
		}
	}
	if err := os.Chdir(req.RunSpec.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	if err := applyRlimits(req.RunSpec.Limits); err != nil {
		return err
	}
	if err := redirectStdin(req.RunSpec.StdinPath); err != nil {
		return err
	}
	if req.EnableSeccomp && req.Isolation.SeccompProfile != "" {
		if err := applySeccomp(req.Isolation.SeccompProfile); err != nil {
			return err
		}
	}

	env := buildEnv(req.RunSpec.Env)
	cmdPath, err := lookPath(req.RunSpec.Cmd[0], env)
	if err != nil {
		return err
	}
	return unix.Exec(cmdPath, req.RunSpec.Cmd, env)
}

func decodeRequest(r io.Reader) (request, error) {
	var req request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func validateRequest(req request) error {
	if len(req.RunSpec.Cmd) == 0 || req.RunSpec.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if req.RunSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if !req.EnableNs && (req.Isolation.RootFS != "" || len(req.RunSpec.BindMounts) > 0) {
		return fmt.Errorf("rootfs and bind mounts need namespaces")
	}
	for _, m := range req.RunSpec.BindMounts {
		if m.Source == "" || m.Target == "" {
			return fmt.Errorf("invalid mount %q -> %q", m.Source, m.Target)
		}
	}
	return nil
}

// redirectStdin replaces the request pipe with the case input.
func redirectStdin(path string) error {
	if path == "" {
		path = os.DevNull
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open stdin: %w", err)
	}
	defer f.Close()
	if err := unix.Dup2(int(f.Fd()), int(os.Stdin.Fd())); err != nil {
		return fmt.Errorf("dup stdin: %w", err)
	}
	return nil
}

func buildEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.Contains(kv, "=") {
			out = append(out, kv)
		}
	}
	if len(out) == 0 {
		return []string{"PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"}
	}
	return out
}

// lookPath resolves name against the PATH of the target environment rather
// than the helper's own.
func lookPath(name string, env []string) (string, error) {
	path := ""
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			path = strings.TrimPrefix(kv, "PATH=")
		}
	}
	os.Clearenv()
	if path != "" {
		_ = os.Setenv("PATH", path)
	}
	resolved, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("resolve command: %w", err)
	}
	return resolved, nil
}
