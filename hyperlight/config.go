package hyperlight

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// SandboxConfig holds the per-sandbox knobs spec.md §4.8/§5/§6 attach to
// `new` beyond the guest path, options, and MemoryConfig: the cancellation
// watchdog's two durations, the correlation id (generated via
// internal/corrid if left empty), the writer port 100 output is forwarded
// to, and an optional logger (internal/hvlog.New() is used if nil).
type SandboxConfig struct {
	// MaxExecutionTime bounds a single CallGuest invocation; zero disables
	// the watchdog entirely (spec.md §5 Cancellation).
	MaxExecutionTime time.Duration

	// MaxWaitForCancellation bounds how long the driver is given to honor a
	// cancellation request before being forcibly destroyed.
	MaxWaitForCancellation time.Duration

	// CorrelationID is propagated into every log line and error payload
	// this sandbox produces. A fresh one is generated if empty.
	CorrelationID string

	// ErrorLogger is the base logger internal/hvlog.Component derives this
	// sandbox's entries from. internal/hvlog.New() is used if nil.
	ErrorLogger *logrus.Logger

	// Writer receives every port-100 WriteOutput chunk (spec.md §4.6). Must
	// be non-nil; dispatcher.New documents the same requirement.
	Writer io.Writer

	// ConfigFile, if set, names a TOML document (internal/config.Load's
	// format) supplying defaults for every zero-valued field of the
	// MemoryConfig passed to New and for MaxExecutionTime/
	// MaxWaitForCancellation above, for embedders who'd rather ship a
	// config file than hand-build every struct field. Explicit non-zero
	// fields always win over the file.
	ConfigFile string

	// InitFunc, if set, runs once New has built the host-function registry
	// but before the guest image is loaded or the PEB is written, so it can
	// call ExposeHostMethods/ExposeHostMethod/ExposeAndBindMembers on the
	// partially-constructed *Sandbox it's handed (spec.md §6's `new(path,
	// options, memory_config, init_fn, ...)` parameter list makes host
	// function registration part of construction, not a step that can race
	// against guest init).
	InitFunc func(*Sandbox) error
}
