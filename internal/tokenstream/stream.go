// Package tokenstream decodes the newline-delimited JSON body of a
// streaming generate call into a sequence of cleaned text fragments.
package tokenstream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
)

// Stream is a single-pass, pull-based fragment stream. Each Next call
// reads at most one record from the underlying body, so consuming a
// fragment is what drives the next network read. Nothing is buffered
// beyond the current line.
//
// Lines that do not parse as JSON, and records without a "response"
// field, are dropped silently; they contribute zero fragments and never
// abort the stream.
type Stream struct {
	rc      io.ReadCloser
	scanner *bufio.Scanner
	fault   string
	err     error
	done    bool
	closed  bool
}

// record is one line of the backend's streaming body.
type record struct {
	Response *string `json:"response"`
	Done     bool    `json:"done"`
}

// New wraps a streaming response body. faultMsg, if non-empty, is emitted
// as one final fragment when the transport fails mid-stream, so the
// consumer always receives something user-visible instead of a raw fault.
func New(rc io.ReadCloser, faultMsg string) *Stream {
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{rc: rc, scanner: sc, fault: faultMsg}
}

// Next returns the next cleaned fragment. ok is false once the stream is
// exhausted; a normal end of stream and a reported transport fault both
// terminate it, and there is no transition back.
func (s *Stream) Next() (frag string, ok bool) {
	if s.done {
		return "", false
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Response == nil {
			continue
		}
		if f := Unescape(*rec.Response); f != "" {
			return f, true
		}
	}
	s.done = true
	if err := s.scanner.Err(); err != nil {
		s.err = err
		if s.fault != "" {
			return s.fault, true
		}
	}
	return "", false
}

// Err reports the transport error that ended the stream, if any. A nil
// result after Next returned ok=false means the backend closed the
// stream normally.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the underlying connection. It is safe to call at any
// point, including after abandoning iteration early, and is idempotent.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.done = true
	return s.rc.Close()
}

// Unescape repairs escape artifacts left by double-encoding: literal
// two-character sequences like `\n` or `\t` are decoded back to the
// characters they stand for. Fragments without a backslash pass through
// unchanged.
func Unescape(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		case '"':
			b.WriteByte('"')
		case '\'':
			b.WriteByte('\'')
		case 'u':
			if i+4 < len(s) {
				if v, err := strconv.ParseUint(s[i+1:i+5], 16, 32); err == nil {
					b.WriteRune(rune(v))
					i += 4
					continue
				}
			}
			b.WriteString(`\u`)
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
