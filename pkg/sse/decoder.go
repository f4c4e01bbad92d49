// Package sse decodes the "data: <json>" record stream produced by the
// browser-automation engine.
package sse

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// MaxLineSize bounds a single line; screenshot records carry inline images.
const MaxLineSize = 32 << 20

// Decoder splits a byte stream into records separated by blank lines. Input
// may arrive in arbitrary chunks; a record is returned only once its
// terminating blank line has been read.
type Decoder struct {
	scanner *bufio.Scanner
	lines   []string
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next complete record without its trailing blank line. At
// end of input it returns io.EOF; an unterminated trailing record is dropped.
func (d *Decoder) Next() (string, error) {
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if line == "" {
			if len(d.lines) == 0 {
				continue
			}
			record := strings.Join(d.lines, "\n")
			d.lines = d.lines[:0]
			return record, nil
		}
		d.lines = append(d.lines, line)
	}
	d.lines = nil
	if err := d.scanner.Err(); err != nil {
		return "", fmt.Errorf("reading stream: %w", err)
	}
	return "", io.EOF
}

// Data returns the payload of record's data field. Multiple data lines are
// joined with newlines; comments and other fields are ignored. ok is false
// when the record has no data line.
func Data(record string) (data string, ok bool) {
	var parts []string
	for _, line := range strings.Split(record, "\n") {
		if strings.HasPrefix(line, ":") {
			continue
		}
		value, found := strings.CutPrefix(line, "data:")
		if !found {
			continue
		}
		parts = append(parts, strings.TrimPrefix(value, " "))
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

// Format frames payload as one record.
func Format(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	return append(out, '\n', '\n')
}
