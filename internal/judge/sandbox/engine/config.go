package engine

import "codearena/internal/judge/sandbox/spec"

// Config controls sandbox engine behavior.
//
// Without HelperPath the engine starts the command directly in its own
// process group. With it, the helper sets up mounts, chroot, rlimits and the
// seccomp filter before exec'ing the command.
type Config struct {
	HelperPath       string `yaml:"helperPath"`
	CgroupRoot       string `yaml:"cgroupRoot"`
	RootFS           string `yaml:"rootfs"`
	SeccompProfile   string `yaml:"seccompProfile"`
	EnableSeccomp    bool   `yaml:"enableSeccomp"`
	EnableNamespaces bool   `yaml:"enableNamespaces"`
	AllowNetwork     bool   `yaml:"allowNetwork"`
	StderrMaxBytes   int64  `yaml:"stderrMaxBytes"`
	StdoutMaxBytes   int64  `yaml:"stdoutMaxBytes"`
}

const (
	defaultStderrMaxBytes int64 = 64 * 1024
	defaultStdoutMaxBytes int64 = 1 << 20
)

// HelperFailureExit is the exit status sandbox-init uses when it fails before
// exec'ing the target command.
const HelperFailureExit = 125

// HelperPrefix starts every diagnostic line written by sandbox-init.
const HelperPrefix = "sandbox-init: "

func (c Config) withDefaults() Config {
	if c.StderrMaxBytes <= 0 {
		c.StderrMaxBytes = defaultStderrMaxBytes
	}
	if c.StdoutMaxBytes <= 0 {
		c.StdoutMaxBytes = defaultStdoutMaxBytes
	}
	return c
}

func (c Config) isolation() spec.Isolation {
	return spec.Isolation{
		RootFS:         c.RootFS,
		SeccompProfile: c.SeccompProfile,
		DisableNetwork: !c.AllowNetwork,
	}
}

// initRequest is the JSON document sandbox-init reads from stdin.
type initRequest struct {
	RunSpec       spec.RunSpec
	Isolation     spec.Isolation
	EnableSeccomp bool
	EnableNs      bool
}
