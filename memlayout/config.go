// Package memlayout computes the byte offsets of every region inside a
// sandbox's guest-physical frame. It is a pure function of a MemoryConfig:
// it allocates nothing and touches no memory, so it is safe to call
// repeatedly (e.g. for a dry-run size estimate before allocating shared
// memory).
package memlayout

// Minimums mirror spec.md §4.2's clamping rules: a MemoryConfig's requested
// sizes are never honored below these floors, so a misconfigured embedder
// can't produce a layout too small to hold its own control structures.
const (
	MinInputDataSize             = 8 * 1024
	MinOutputDataSize            = 8 * 1024
	MinGuestErrorBufferSize      = 128
	MinHostFunctionDefSize       = 1024
	MinHostExceptionSize         = 1024
	MinStackSize                 = 1 * 1024 * 1024
	MinHeapSize                  = 16 * 1024
	MinGuestPanicContextSize     = 256
	pageSize                uint64 = 4096
)

// MemoryConfig is the embedder-supplied set of region sizes. Every field is
// clamped up to its minimum by New; zero means "use the minimum" except
// where noted.
type MemoryConfig struct {
	InputDataSize        uint64
	OutputDataSize        uint64
	HostFunctionDefSize   uint64
	HostExceptionSize     uint64
	GuestErrorBufferSize  uint64
	GuestPanicContextSize uint64

	// StackSize and HeapSize are advisory: when zero, the memory manager
	// falls back to the PE image's own StackReserve/HeapReserve (spec.md
	// §4.4's "load_into_memory" constructors do this), clamped to the
	// minimums below.
	StackSize uint64
	HeapSize  uint64

	// KernelStackSize is present only in the newest revision of the
	// upstream design (spec.md §9 Open Question). Zero collapses the
	// region to zero width, matching the behavior of revisions that omit
	// it entirely.
	KernelStackSize uint64

	// CodeSize is the size of the guest PE payload once loaded. It is not
	// an embedder-tunable size like the others: the memory manager fills
	// it in from the parsed PE image before calling New.
	CodeSize uint64
}

func clamp(v, min uint64) uint64 {
	if v < min {
		return min
	}
	return v
}

// normalized returns a copy of cfg with every size clamped to its floor.
func (cfg MemoryConfig) normalized() MemoryConfig {
	cfg.InputDataSize = clamp(cfg.InputDataSize, MinInputDataSize)
	cfg.OutputDataSize = clamp(cfg.OutputDataSize, MinOutputDataSize)
	cfg.HostFunctionDefSize = clamp(cfg.HostFunctionDefSize, MinHostFunctionDefSize)
	cfg.HostExceptionSize = clamp(cfg.HostExceptionSize, MinHostExceptionSize)
	cfg.GuestErrorBufferSize = clamp(cfg.GuestErrorBufferSize, MinGuestErrorBufferSize)
	cfg.GuestPanicContextSize = clamp(cfg.GuestPanicContextSize, MinGuestPanicContextSize)
	cfg.StackSize = clamp(cfg.StackSize, MinStackSize)
	cfg.HeapSize = clamp(cfg.HeapSize, MinHeapSize)
	// KernelStackSize has no floor: zero is a legal "omit this region".
	return cfg
}
