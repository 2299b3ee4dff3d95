// Package dispatcher turns a vCPU's IoOut exits into host-side actions: a
// log record, a chunk of guest stdout, a guest->host function call, or a
// guest abort. Grounded on the teacher's core_engine/devices.IOBus/PioDevice
// (a port-number-keyed dispatch table with a bounds-checked "no handler"
// error path), narrowed from an arbitrary x86 port range down to spec.md
// §4.6's four fixed RPC ports.
package dispatcher

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/hyperlight-dev/hyperlight-go/hypervisor"
	"github.com/hyperlight-dev/hyperlight-go/memmgr"
)

// FunctionInvoker services a guest->host call frame against the host
// function registry (spec.md §4.7). hostfunc.Registry implements this
// structurally; dispatcher does not import hostfunc to avoid a package
// cycle (hostfunc has no need to know about ports or exits).
type FunctionInvoker interface {
	Invoke(frame *memmgr.CallFrame) (memmgr.Value, error)
}

// NotFoundError marks a FunctionInvoker error as "no such registered
// function", distinguishing it from a coercion/invocation failure so the
// dispatcher can choose the right GuestError-adjacent message.
type NotFoundError interface {
	error
	NotFound() bool
}

// Dispatcher owns one sandbox's memory manager and routes its IoOut exits.
type Dispatcher struct {
	mem      *memmgr.MemoryManager
	registry FunctionInvoker
	writer   io.Writer
	log      *logrus.Entry
}

// New builds a Dispatcher over mem, invoking registry for port-101 calls and
// writing port-100 stdout chunks to writer (os.Stdout if nil is never
// assumed; callers must supply one, matching spec.md §4.8's
// `writer`-is-part-of-SandboxConfig contract).
func New(mem *memmgr.MemoryManager, registry FunctionInvoker, writer io.Writer, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{mem: mem, registry: registry, writer: writer, log: log}
}

// HandleExit services one IoOut exit. Non-IoOut exits (Halt, Mmio,
// Cancelled, Error) get no port action here; they are left for the
// orchestrator to handle.
//
// Every exit — including non-IoOut ones — is followed by a stack-guard
// check; a corrupted guard is fatal and reported as ErrStackOverflow
// (spec.md §4.6: "Every exit is followed by check_stack_guard").
func (d *Dispatcher) HandleExit(exit hypervisor.Exit) error {
	var actionErr error
	if exit.Kind == hypervisor.ExitIoOut {
		actionErr = d.handlePort(exit.Port)
	}

	ok, guardErr := d.mem.CheckStackGuard()
	if guardErr != nil {
		return guardErr
	}
	if !ok {
		return ErrStackOverflow{}
	}
	return actionErr
}

func (d *Dispatcher) handlePort(port uint16) error {
	switch port {
	case PortLog:
		return d.handleLog()
	case PortWriteOutput:
		return d.handleWriteOutput()
	case PortCallFunction:
		return d.handleCallFunction()
	case PortAbort:
		return ErrGuestAborted{}
	default:
		d.log.WithField("port", port).Warn("dispatcher: ignoring exit on unmapped port")
		return nil
	}
}

func (d *Dispatcher) handleLog() error {
	raw, err := d.mem.ReadRawInput()
	if err != nil {
		return err
	}
	rec, err := parseLogRecord(raw)
	if err != nil {
		return err
	}

	entry := d.log.WithField("guest_source", rec.Source)
	switch rec.Level {
	case LogTrace:
		entry.Trace(rec.Message)
	case LogDebug:
		entry.Debug(rec.Message)
	case LogWarn:
		entry.Warn(rec.Message)
	case LogError:
		entry.Error(rec.Message)
	default:
		entry.Info(rec.Message)
	}
	return nil
}

func (d *Dispatcher) handleWriteOutput() error {
	raw, err := d.mem.ReadRawInput()
	if err != nil {
		return err
	}
	_, err = d.writer.Write(raw)
	return err
}

func (d *Dispatcher) handleCallFunction() error {
	frame, err := d.mem.ReadHostCall()
	if err != nil {
		return err
	}

	result, invokeErr := d.registry.Invoke(frame)
	if invokeErr != nil {
		if nf, ok := invokeErr.(NotFoundError); ok && nf.NotFound() {
			return d.mem.WriteOutbException("FunctionNotFoundException", []byte(invokeErr.Error()))
		}
		return d.mem.WriteOutbException("HostFunctionInvocationException", []byte(invokeErr.Error()))
	}

	return d.mem.WriteHostReturn(result)
}
