package memmgr

import (
	"encoding/binary"
	"unicode/utf8"
)

// ErrorCode enumerates GuestError.Code, per spec.md §3.
type ErrorCode uint64

const (
	NoError ErrorCode = iota
	CodeHeaderNotSet
	UnsupportedParameterType
	FunctionNameNotProvided
	FunctionNotFound
	ParametersMissing
	DispatchPointerNotSet
	OutbError
	StackOverflow
	UnknownError
	GuestAborted
)

// GuestError is the guest's own error structure, read from the guest-error
// block (spec.md §3, §4.4 get_guest_error).
type GuestError struct {
	Code    ErrorCode
	Message string
}

// GetGuestError reads the error code and message the guest last wrote into
// the guest-error block. The message is already bounded by the region size
// (the guest is responsible for not exceeding it); GetGuestError truncates
// defensively at a UTF-8 rune boundary if it somehow does.
func (m *MemoryManager) GetGuestError() (GuestError, error) {
	l := m.layout
	region := make([]byte, l.GuestErrorSize())
	if err := m.mem.CopyOut(l.GuestErrorOffset(), region); err != nil {
		return GuestError{}, err
	}
	if len(region) < 12 {
		return GuestError{}, invalidArg("guest-error block too small for a header")
	}

	code := ErrorCode(binary.LittleEndian.Uint64(region[0:8]))
	msgLen := uint64(binary.LittleEndian.Uint32(region[8:12]))
	start := uint64(12)
	if start+msgLen > uint64(len(region)) {
		msgLen = uint64(len(region)) - start
	}
	msg := region[start : start+msgLen]
	// Drop a trailing rune that the bound above cut short.
	for i := len(msg) - 1; i >= 0 && i >= len(msg)-utf8.UTFMax; i-- {
		if utf8.RuneStart(msg[i]) {
			if !utf8.FullRune(msg[i:]) {
				msg = msg[:i]
			}
			break
		}
	}

	return GuestError{Code: code, Message: string(msg)}, nil
}

// GetHostException returns the serialized host exception payload previously
// written by WriteOutbException, or nil if none is present (spec.md §4.4
// get_host_exception).
func (m *MemoryManager) GetHostException() ([]byte, error) {
	l := m.layout
	region := make([]byte, l.HostExceptionSize())
	if err := m.mem.CopyOut(l.HostExceptionOffset(), region); err != nil {
		return nil, err
	}
	if len(region) < 4 {
		return nil, nil
	}
	nameLen := uint64(binary.LittleEndian.Uint32(region[0:4]))
	nameEnd := 4 + nameLen
	if nameEnd+4 > uint64(len(region)) {
		return nil, nil
	}
	payloadLen := uint64(binary.LittleEndian.Uint32(region[nameEnd : nameEnd+4]))
	payloadStart := nameEnd + 4
	if payloadLen == 0 || payloadStart+payloadLen > uint64(len(region)) {
		return nil, nil
	}
	return region[payloadStart : payloadStart+payloadLen], nil
}

// WriteOutbException writes the host-raised exception name and payload into
// the host-exception region, bounded by its configured size. If the
// combined encoding would overflow, the payload is truncated at a byte
// boundary (it is opaque, not necessarily UTF-8). The name is truncated only
// when it alone does not fit, and then rune-safe since names are always
// UTF-8.
func (m *MemoryManager) WriteOutbException(name string, payload []byte) error {
	l := m.layout
	size := l.HostExceptionSize()

	nameBytes := []byte(name)
	if uint64(len(nameBytes))+8 > size {
		nameBytes = truncateUTF8(nameBytes, int(size)-8)
	}

	budget := int64(size) - 4 - int64(len(nameBytes)) - 4
	if budget < 0 {
		budget = 0
	}
	if int64(len(payload)) > budget {
		payload = payload[:budget]
	}

	buf := make([]byte, 4+len(nameBytes)+4+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(nameBytes)))
	copy(buf[4:], nameBytes)
	off := 4 + len(nameBytes)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(payload)))
	copy(buf[off+4:], payload)

	return m.mem.CopyIn(l.HostExceptionOffset(), buf)
}

// truncateUTF8 truncates b to at most max bytes without splitting a
// multi-byte rune (spec.md §3: "truncation must not split a multi-byte
// rune").
func truncateUTF8(b []byte, max int) []byte {
	if max <= 0 {
		return nil
	}
	if len(b) <= max {
		return b
	}
	n := 0
	for n < max {
		_, size := utf8.DecodeRune(b[n:])
		if n+size > max {
			break
		}
		n += size
	}
	return b[:n]
}
