//go:build windows

package memmgr

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"github.com/hyperlight-dev/hyperlight-go/memlayout"
	"github.com/hyperlight-dev/hyperlight-go/sharedmem"
)

// LoadViaLoader builds an in-process sandbox using the platform library
// loader instead of hyperlight-go's own PE parser/relocator (spec.md §4.4
// load_via_loader). Only the pre-code control regions (page tables, PEB,
// buffers) are reserved in shared memory; the guest code itself is mapped
// by the OS loader at whatever address it chooses, so MemoryConfig.CodeSize
// is forced to 0 here. Mutually exclusive with RecycleAfterRun: there is no
// single frame image to snapshot once the loader has run constructors and
// TLS callbacks, so the hyperlight package's option validation rejects the
// combination before this is ever called.
func LoadViaLoader(cfg memlayout.MemoryConfig, path string, log *logrus.Entry) (*MemoryManager, error) {
	cfg.CodeSize = 0
	layout := memlayout.New(cfg)

	handle, err := windows.LoadLibrary(path)
	if err != nil {
		return nil, fmt.Errorf("memmgr: LoadLibrary(%s): %w", path, err)
	}

	mem, err := sharedmem.New(layout.TotalSize())
	if err != nil {
		windows.FreeLibrary(handle)
		return nil, err
	}

	return &MemoryManager{
		cfg:       cfg,
		layout:    layout,
		mem:       mem,
		forHV:     false,
		guestBase: uint64(handle),
		log:       log,
	}, nil
}
