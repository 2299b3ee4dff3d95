package hyperlight

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/hyperlight-dev/hyperlight-go/dispatcher"
	"github.com/hyperlight-dev/hyperlight-go/hostfunc"
	"github.com/hyperlight-dev/hyperlight-go/hypervisor"
	"github.com/hyperlight-dev/hyperlight-go/internal/config"
	"github.com/hyperlight-dev/hyperlight-go/internal/corrid"
	"github.com/hyperlight-dev/hyperlight-go/memlayout"
	"github.com/hyperlight-dev/hyperlight-go/memmgr"
)

// Sandbox is one guest's complete execution context: its memory manager,
// hypervisor driver (or in-process stand-in), dispatcher, and host-function
// registry, plus the reentrancy and lifecycle bookkeeping spec.md §4.8/§5
// require. Grounded on the teacher's core_engine.VirtualMachine, which owns
// the equivalent set of resources for one hand-rolled guest.
type Sandbox struct {
	opts          SandboxOption
	cfg           SandboxConfig
	correlationID string
	log           *logrus.Entry

	mem        *memmgr.MemoryManager
	driver     hypervisor.Driver
	backend    hypervisor.Backend
	registry   *hostfunc.Registry
	dispatcher *dispatcher.Dispatcher

	inProcess    bool
	acquiredSlot bool
	outbPtr      uint64

	dispatchFnPtr uint64
	initialRSP    uint64

	reentrancy reentrancy
	poisoned   atomic.Bool

	mu         sync.Mutex
	calledOnce bool
}

// New builds and initializes a Sandbox: it loads path's guest image (via the
// platform loader if opts requests in-process execution, otherwise via the
// PE parser/relocator and a hypervisor backend), runs cfg.InitFunc (if set)
// so host functions can be registered before the PEB is written, then drives
// the guest through its own init path and takes the post-init snapshot
// (spec.md §4.8 `new`).
func New(ctx context.Context, path string, opts SandboxOption, memCfg memlayout.MemoryConfig, cfg SandboxConfig) (*Sandbox, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if cfg.Writer == nil {
		return nil, newError(KindInvalidArgument, "hyperlight", cfg.CorrelationID, nil)
	}

	correlationID := cfg.CorrelationID
	if correlationID == "" {
		correlationID = corrid.New()
	}
	log := componentLogger(cfg.ErrorLogger, correlationID, "hyperlight")

	if cfg.ConfigFile != "" {
		defaults, err := config.Load(cfg.ConfigFile)
		if err != nil {
			return nil, newError(KindInvalidArgument, "hyperlight", correlationID, err)
		}
		memCfg = applyMemoryDefaults(memCfg, defaults.Memory)
		if cfg.MaxExecutionTime == 0 {
			cfg.MaxExecutionTime = defaults.MaxExecutionTime
		}
		if cfg.MaxWaitForCancellation == 0 {
			cfg.MaxWaitForCancellation = defaults.MaxWaitForCancellation
		}
	}

	s := &Sandbox{
		opts:          opts,
		cfg:           cfg,
		correlationID: correlationID,
		log:           log,
		registry:      hostfunc.NewRegistry(componentLogger(cfg.ErrorLogger, correlationID, "hostfunc")),
		inProcess:     opts.inProcess(),
	}

	if cfg.InitFunc != nil {
		if err := cfg.InitFunc(s); err != nil {
			return nil, newError(KindInvalidArgument, "hyperlight", correlationID, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, newError(KindTimedOut, "hyperlight", correlationID, err)
	}

	if s.inProcess {
		if err := s.setupInProcess(path, memCfg); err != nil {
			return nil, err
		}
	} else {
		if err := s.setupHypervisor(path, memCfg); err != nil {
			return nil, err
		}
	}

	if err := s.initializeGuest(); err != nil {
		s.teardown()
		return nil, err
	}

	return s, nil
}

// applyMemoryDefaults fills every zero-valued field of cfg from file, so an
// embedder's explicit MemoryConfig fields always win over whatever a
// ConfigFile supplies.
func applyMemoryDefaults(cfg, file memlayout.MemoryConfig) memlayout.MemoryConfig {
	if cfg.InputDataSize == 0 {
		cfg.InputDataSize = file.InputDataSize
	}
	if cfg.OutputDataSize == 0 {
		cfg.OutputDataSize = file.OutputDataSize
	}
	if cfg.HostFunctionDefSize == 0 {
		cfg.HostFunctionDefSize = file.HostFunctionDefSize
	}
	if cfg.HostExceptionSize == 0 {
		cfg.HostExceptionSize = file.HostExceptionSize
	}
	if cfg.GuestErrorBufferSize == 0 {
		cfg.GuestErrorBufferSize = file.GuestErrorBufferSize
	}
	if cfg.GuestPanicContextSize == 0 {
		cfg.GuestPanicContextSize = file.GuestPanicContextSize
	}
	if cfg.StackSize == 0 {
		cfg.StackSize = file.StackSize
	}
	if cfg.HeapSize == 0 {
		cfg.HeapSize = file.HeapSize
	}
	if cfg.KernelStackSize == 0 {
		cfg.KernelStackSize = file.KernelStackSize
	}
	return cfg
}

// setupInProcess claims the process-wide in-process slot and builds the
// memory manager, driver, and dispatcher for RunInProcess/RunFromGuestBinary
// execution (spec.md §4.4 load_via_loader).
func (s *Sandbox) setupInProcess(path string, memCfg memlayout.MemoryConfig) error {
	if !acquireInProcessSlot() {
		return newError(KindAlreadyInProgress, "hyperlight", s.correlationID,
			nil)
	}
	s.acquiredSlot = true

	mem, err := memmgr.LoadViaLoader(memCfg, path, componentLogger(s.cfg.ErrorLogger, s.correlationID, "memmgr"))
	if err != nil {
		return newError(KindUnsupportedPlatform, "memmgr", s.correlationID, err)
	}
	s.mem = mem

	driver, outbPtr, err := newInProcessDriver(s.onHostCallback)
	if err != nil {
		mem.Close()
		return newError(KindUnsupportedPlatform, "hyperlight", s.correlationID, err)
	}
	s.driver = driver
	s.outbPtr = uint64(outbPtr)

	s.dispatcher = dispatcher.New(mem, s.registry, s.cfg.Writer, componentLogger(s.cfg.ErrorLogger, s.correlationID, "dispatcher"))
	return nil
}

// setupHypervisor parses and relocates path as a guest PE image, opens the
// platform's hypervisor backend, and maps the resulting frame into guest
// memory (spec.md §4.4 load_for_hypervisor, §4.5 backend selection).
func (s *Sandbox) setupHypervisor(path string, memCfg memlayout.MemoryConfig) error {
	peBytes, err := os.ReadFile(path)
	if err != nil {
		return newError(KindInvalidPe, "memmgr", s.correlationID, err)
	}

	mem, err := memmgr.LoadForHypervisor(memCfg, peBytes, componentLogger(s.cfg.ErrorLogger, s.correlationID, "memmgr"))
	if err != nil {
		return newError(KindInvalidPe, "memmgr", s.correlationID, err)
	}
	s.mem = mem

	driver, backend, err := openHypervisorDriver()
	if err != nil {
		mem.Close()
		return newError(KindHypervisorNotFound, "hypervisor", s.correlationID, err)
	}
	s.driver = driver
	s.backend = backend

	if err := driver.MapMemory(mem.GuestBase(), hostAddrOfBytes(mem.Bytes()), mem.Layout().TotalSize()); err != nil {
		driver.Close()
		mem.Close()
		return newError(KindHypervisorNotFound, "hypervisor", s.correlationID, err)
	}

	s.dispatcher = dispatcher.New(mem, s.registry, s.cfg.Writer, componentLogger(s.cfg.ErrorLogger, s.correlationID, "dispatcher"))
	return nil
}

// onHostCallback services a host-function call placed by in-process guest
// code through the native callback hostCallbackPtr installed in its PEB,
// reusing dispatcher.HandleExit by synthesizing the same ExitIoOut a
// hypervisor-mode guest's `out` instruction on PortCallFunction would have
// produced (spec.md §4.6 read_host_call/write_host_return).
func (s *Sandbox) onHostCallback() error {
	return s.dispatcher.HandleExit(hypervisor.Exit{Kind: hypervisor.ExitIoOut, Port: dispatcher.PortCallFunction})
}

// initializeGuest programs the vCPU's initial registers, stamps the PEB and
// code pointers, seeds the stack guard, runs the guest's own init path to
// completion, and takes the post-init snapshot (spec.md §4.4/§4.5/§4.8).
func (s *Sandbox) initializeGuest() error {
	l := s.mem.Layout()
	base := s.mem.GuestBase()

	entryPoint := base + l.EntryPointOffset(s.mem.PE().EntryPointOffset)
	initialRSP := base + l.InitialRSPOffset()
	pebAddr := base + l.HostFunctionDefOffset()
	pml4Addr := base + l.PML4Offset()

	var seedBytes [8]byte
	if _, err := rand.Read(seedBytes[:]); err != nil {
		return newError(KindInvalidArgument, "hyperlight", s.correlationID, err)
	}
	seed := leUint64(seedBytes[:])

	if err := s.driver.Initialise(pml4Addr, entryPoint, initialRSP, pebAddr, seed, 4096); err != nil {
		return newError(KindHypervisorNotFound, "hypervisor", s.correlationID, err)
	}
	s.initialRSP = initialRSP

	codePtr := entryPoint
	if err := s.mem.WriteCodePointers(codePtr, s.outbPtr); err != nil {
		return newError(KindBufferTooSmall, "memmgr", s.correlationID, err)
	}

	if err := s.mem.WritePEB(s.registry.PEBRecords(), 0); err != nil {
		return newError(KindBufferTooSmall, "memmgr", s.correlationID, err)
	}

	var guard [16]byte
	if _, err := rand.Read(guard[:]); err != nil {
		return newError(KindInvalidArgument, "hyperlight", s.correlationID, err)
	}
	if err := s.mem.SetStackGuard(guard); err != nil {
		return newError(KindBufferTooSmall, "memmgr", s.correlationID, err)
	}

	if err := s.runCycle(entryPoint); err != nil {
		return err
	}

	if err := s.driver.ResetRSP(s.initialRSP); err != nil {
		return newError(KindHypervisorNotFound, "hypervisor", s.correlationID, err)
	}

	dispatchFnPtr, err := s.mem.ReadDispatchFnPtr()
	if err != nil {
		return newError(KindOutOfBounds, "memmgr", s.correlationID, err)
	}
	s.dispatchFnPtr = dispatchFnPtr

	if err := s.mem.Snapshot(); err != nil {
		return newError(KindBufferTooSmall, "memmgr", s.correlationID, err)
	}

	return nil
}

// runCycle dispatches fnPtr and drives the driver's exit loop until the
// guest halts, is cancelled, or a dispatcher-handled exit reports an
// unrecoverable condition (spec.md §4.5/§4.6).
func (s *Sandbox) runCycle(fnPtr uint64) error {
	if err := s.driver.Dispatch(fnPtr); err != nil {
		return newError(KindHypervisorNotFound, "hypervisor", s.correlationID, err)
	}

	for {
		exit, err := s.driver.Run()
		if err != nil {
			return newError(KindHostException, "hypervisor", s.correlationID, err)
		}

		if exit.Kind == hypervisor.ExitError {
			return newError(KindHostException, "hypervisor", s.correlationID, exit.Err)
		}

		// Every other exit kind, including Halt, runs through HandleExit: it
		// checks the stack guard unconditionally, not only on IoOut exits.
		if hErr := s.dispatcher.HandleExit(exit); hErr != nil {
			switch hErr.(type) {
			case dispatcher.ErrGuestAborted:
				return newError(KindGuestAborted, "dispatcher", s.correlationID, hErr)
			case dispatcher.ErrStackOverflow:
				return newError(KindStackOverflow, "dispatcher", s.correlationID, hErr)
			default:
				return newError(KindHostException, "dispatcher", s.correlationID, hErr)
			}
		}

		switch exit.Kind {
		case hypervisor.ExitHalt:
			return nil
		case hypervisor.ExitCancelled:
			return newError(KindTimedOut, "hypervisor", s.correlationID, nil)
		case hypervisor.ExitMmio:
			// No device is mapped into guest-physical space outside the
			// regions memmgr itself owns (spec.md §4.3); an MMIO exit means
			// the guest touched an address nothing backs, which is fatal,
			// not resumable.
			return newError(KindGuestCrash, "hypervisor",
				s.correlationID, fmt.Errorf("unmapped MMIO access at gpa=0x%x", exit.GPA))
		}
	}
}

// CorrelationID returns the correlation id every log entry and error this
// sandbox produces carries (spec.md §7, §9).
func (s *Sandbox) CorrelationID() string { return s.correlationID }

// Backend reports which hypervisor backend this sandbox is running under.
// The zero value (empty string) means the sandbox is running in-process,
// with no hypervisor backend at all.
func (s *Sandbox) Backend() hypervisor.Backend { return s.backend }

// Dispose tears the sandbox down: closes the hypervisor driver, unmaps
// shared memory, and releases the process-wide in-process slot if this
// sandbox held it. Every teardown failure is aggregated rather than
// discarding all but the first, per SPEC_FULL §7's go-multierror resolution
// (the teacher's VirtualMachine.Close keeps only the last error it saw).
func (s *Sandbox) Dispose() error {
	return s.teardown()
}

func (s *Sandbox) teardown() error {
	var result *multierror.Error
	if s.driver != nil {
		if err := s.driver.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.mem != nil {
		if err := s.mem.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.acquiredSlot {
		releaseInProcessSlot()
		s.acquiredSlot = false
	}
	if err := result.ErrorOrNil(); err != nil {
		return newError(KindInvalidArgument, "hyperlight", s.correlationID, err)
	}
	return nil
}

// hostAddrOfBytes returns the host virtual address of a slice's backing
// array, needed to hand the hypervisor driver a host pointer to map into
// guest-physical memory.
func hostAddrOfBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
