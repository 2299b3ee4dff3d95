// Package config loads optional file-driven defaults for a Sandbox's
// MemoryConfig and SandboxConfig (spec.md §4.2, §9) via
// github.com/BurntSushi/toml, for embedders who'd rather ship a config file
// than hand-build the structs. Absent a file, every field defaults to zero
// and memlayout.New's own clamping (§4.2) supplies the spec's minimums.
package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/hyperlight-dev/hyperlight-go/memlayout"
)

// memory is the TOML shape of the [memory] table. Field names mirror
// memlayout.MemoryConfig; CodeSize is intentionally absent since it is
// always derived from the loaded PE image, never file-configured.
type memory struct {
	InputDataSize        uint64 `toml:"input_data_size"`
	OutputDataSize       uint64 `toml:"output_data_size"`
	HostFunctionDefSize  uint64 `toml:"host_function_definition_size"`
	HostExceptionSize    uint64 `toml:"host_exception_size"`
	GuestErrorBufferSize uint64 `toml:"guest_error_buffer_size"`
	GuestPanicContextSize uint64 `toml:"guest_panic_context_size"`
	StackSize            uint64 `toml:"stack_size"`
	HeapSize             uint64 `toml:"heap_size"`
	KernelStackSize      uint64 `toml:"kernel_stack_size"`
}

// sandbox is the TOML shape of the [sandbox] table. Durations are given in
// milliseconds in the file and converted to time.Duration on load.
type sandbox struct {
	MaxExecutionTimeMillis        int64 `toml:"max_execution_time_ms"`
	MaxWaitForCancellationMillis  int64 `toml:"max_wait_for_cancellation_ms"`
}

// File is the root TOML document: an optional [memory] table and an
// optional [sandbox] table, either of which may be omitted entirely.
type File struct {
	Memory  memory  `toml:"memory"`
	Sandbox sandbox `toml:"sandbox"`
}

// Defaults is the Go-native form of a loaded File, ready to hand to
// memlayout.New and hyperlight.SandboxConfig.
type Defaults struct {
	Memory                 memlayout.MemoryConfig
	MaxExecutionTime       time.Duration
	MaxWaitForCancellation time.Duration
}

// Load parses the TOML document at path into Defaults. A path that doesn't
// exist is not this package's concern to special-case: callers that want an
// "optional file" behavior should stat it first and skip Load when absent,
// matching how the teacher's own config-less VirtualMachine construction
// never required a file to exist.
func Load(path string) (Defaults, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return Defaults{}, err
	}
	return fromFile(f), nil
}

// Parse decodes a TOML document already in memory, for embedders that load
// their config from somewhere other than a plain file (an embedded asset, a
// secrets manager, etc.).
func Parse(data string) (Defaults, error) {
	var f File
	if _, err := toml.Decode(data, &f); err != nil {
		return Defaults{}, err
	}
	return fromFile(f), nil
}

func fromFile(f File) Defaults {
	return Defaults{
		Memory: memlayout.MemoryConfig{
			InputDataSize:         f.Memory.InputDataSize,
			OutputDataSize:        f.Memory.OutputDataSize,
			HostFunctionDefSize:   f.Memory.HostFunctionDefSize,
			HostExceptionSize:     f.Memory.HostExceptionSize,
			GuestErrorBufferSize:  f.Memory.GuestErrorBufferSize,
			GuestPanicContextSize: f.Memory.GuestPanicContextSize,
			StackSize:             f.Memory.StackSize,
			HeapSize:              f.Memory.HeapSize,
			KernelStackSize:       f.Memory.KernelStackSize,
		},
		MaxExecutionTime:       time.Duration(f.Sandbox.MaxExecutionTimeMillis) * time.Millisecond,
		MaxWaitForCancellation: time.Duration(f.Sandbox.MaxWaitForCancellationMillis) * time.Millisecond,
	}
}
