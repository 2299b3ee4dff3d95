package dispatcher

import "encoding/binary"

// LogRecord is the structured record port 99 carries: level, message, and
// an optional source tag (spec.md §4.6: "Emit a structured log record
// parsed from the output buffer").
//
// Wire format (spec.md leaves exact bytes to the implementation): one byte
// level code, 3 bytes padding, then two length-prefixed (4-byte LE length +
// bytes) UTF-8 strings: message, then source.
type LogRecord struct {
	Level   LogLevel
	Message string
	Source  string
}

// LogLevel mirrors the small set of severities a guest can report.
type LogLevel uint8

const (
	LogTrace LogLevel = iota
	LogDebug
	LogInfo
	LogWarn
	LogError
)

func (l LogLevel) String() string {
	switch l {
	case LogTrace:
		return "trace"
	case LogDebug:
		return "debug"
	case LogInfo:
		return "info"
	case LogWarn:
		return "warn"
	case LogError:
		return "error"
	default:
		return "unknown"
	}
}

func parseLogRecord(raw []byte) (LogRecord, error) {
	if len(raw) < 4 {
		return LogRecord{}, errShortRecord("log", 4, len(raw))
	}
	level := LogLevel(raw[0])
	rest := raw[4:]

	msg, rest, err := readLenPrefixed(rest)
	if err != nil {
		return LogRecord{}, err
	}
	src, _, err := readLenPrefixed(rest)
	if err != nil {
		return LogRecord{}, err
	}
	return LogRecord{Level: level, Message: string(msg), Source: string(src)}, nil
}

func readLenPrefixed(b []byte) (value, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, errShortRecord("length-prefixed field", 4, len(b))
	}
	n := binary.LittleEndian.Uint32(b[:4])
	if uint64(n) > uint64(len(b)-4) {
		return nil, nil, errShortRecord("length-prefixed field body", int(n), len(b)-4)
	}
	return b[4 : 4+n], b[4+n:], nil
}
