package logger

import (
	"bytes"
	"regexp"
	"strings"
	"sync"
)

// LogBufferWriter is an io.Writer that writes to the log buffer.
// It parses lines of the form "[peer] [LEVEL] message"; both tags are
// optional.
type LogBufferWriter struct {
	buffer *LogBuffer
	buf    bytes.Buffer
	mu     sync.Mutex
}

var (
	tagRegex   = regexp.MustCompile(`^\[([^\]]+)\]\s*(.*)$`)
	levelNames = map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}
)

// NewLogBufferWriter creates a new writer that writes to the log buffer
func NewLogBufferWriter(buffer *LogBuffer) *LogBufferWriter {
	return &LogBufferWriter{
		buffer: buffer,
	}
}

// Write implements io.Writer. Partial lines are held until their newline
// arrives.
func (lw *LogBufferWriter) Write(p []byte) (n int, err error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	lw.buf.Write(p)

	for {
		data := lw.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := string(data[:i])
		lw.buf.Next(i + 1)

		if line = strings.TrimSuffix(line, "\r"); line == "" {
			continue
		}
		peer, level, message := parseLine(line)
		lw.buffer.Add(peer, level, message)
	}

	return len(p), nil
}

func parseLine(line string) (peer, level, message string) {
	peer = "system"
	message = line

	if m := tagRegex.FindStringSubmatch(message); len(m) == 3 {
		if levelNames[m[1]] {
			return peer, m[1], m[2]
		}
		peer, message = m[1], m[2]
	}
	if m := tagRegex.FindStringSubmatch(message); len(m) == 3 && levelNames[m[1]] {
		level, message = m[1], m[2]
	}
	return peer, level, message
}
