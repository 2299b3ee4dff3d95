//go:build !windows

package memmgr

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/hyperlight-dev/hyperlight-go/memlayout"
)

// ErrUnsupportedPlatform is returned by LoadViaLoader on any platform other
// than Windows: the guest PE targets the Windows x64 calling convention, so
// in-process execution via the platform loader only makes sense there
// (spec.md §9 Design Notes, "Platform-specific calling conventions").
var ErrUnsupportedPlatform = errors.New("memmgr: LoadViaLoader requires GOOS=windows")

// LoadViaLoader is unavailable on this platform; see ErrUnsupportedPlatform.
func LoadViaLoader(cfg memlayout.MemoryConfig, path string, log *logrus.Entry) (*MemoryManager, error) {
	return nil, ErrUnsupportedPlatform
}
