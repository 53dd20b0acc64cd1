// Package spec defines the execution specification and resource limits.
package spec

// ResourceLimit describes hard limits enforced by the sandbox.
// Zero means unlimited for every field.
type ResourceLimit struct {
	CPUTimeMs   int64 `yaml:"cpuTimeMs"`
	WallTimeMs  int64 `yaml:"wallTimeMs"`
	MemoryMB    int64 `yaml:"memoryMb"`
	StackMB     int64 `yaml:"stackMb"`
	OutputBytes int64 `yaml:"outputBytes"`
	PIDs        int64 `yaml:"pids"`
}

// Merge returns base with every positive field of override applied.
func (base ResourceLimit) Merge(override ResourceLimit) ResourceLimit {
	if override.CPUTimeMs > 0 {
		base.CPUTimeMs = override.CPUTimeMs
	}
	if override.WallTimeMs > 0 {
		base.WallTimeMs = override.WallTimeMs
	}
	if override.MemoryMB > 0 {
		base.MemoryMB = override.MemoryMB
	}
	if override.StackMB > 0 {
		base.StackMB = override.StackMB
	}
	if override.OutputBytes > 0 {
		base.OutputBytes = override.OutputBytes
	}
	if override.PIDs > 0 {
		base.PIDs = override.PIDs
	}
	return base
}

// MountSpec describes a bind mount inside the sandbox.
type MountSpec struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Isolation is the hardening applied by the sandbox helper.
type Isolation struct {
	RootFS         string
	SeccompProfile string
	DisableNetwork bool
}

// RunSpec is the unified execution specification for one process.
// Stdout and stderr are captured by the engine; an empty StdinPath means
// the process reads from /dev/null.
type RunSpec struct {
	SubmissionID string
	TaskID       string
	WorkDir      string
	Cmd          []string
	Env          []string
	StdinPath    string
	BindMounts   []MountSpec
	Limits       ResourceLimit
}
