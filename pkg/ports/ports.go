// Package ports parses a sandbox's `ports` file: one reserved TCP port per
// line, optionally flagged (e.g. "statusz") as carrying the readiness
// HTTP endpoint.
package ports

import (
	"bufio"
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/sandboxd/pkg/types"
)

const statuszFlag = "statusz"

// Parse reads a `ports` file's contents. Each non-empty line is
// "<port>[ <flag>]*"; blank lines are ignored.
func Parse(data []byte) ([]types.ReservedPort, error) {
	var out []types.ReservedPort
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		port, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("ports: invalid port %q: %w", fields[0], err)
		}
		entry := types.ReservedPort{Port: port}
		if len(fields) > 1 {
			entry.Flags = fields[1:]
		}
		out = append(out, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Store is a parsed view of one sandbox's `ports` file.
type Store struct {
	entries []types.ReservedPort
}

// NewStore parses data into a Store.
func NewStore(data []byte) (*Store, error) {
	entries, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return &Store{entries: entries}, nil
}

// ReservedPorts returns every declared port, in file order.
func (s *Store) ReservedPorts() []int {
	out := make([]int, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.Port)
	}
	return out
}

// StatusZPort returns the first port flagged "statusz", if any.
func (s *Store) StatusZPort() (int, bool) {
	for _, e := range s.entries {
		if e.HasFlag(statuszFlag) {
			return e.Port, true
		}
	}
	return 0, false
}

// Format renders entries back to the `ports` file text form.
func Format(entries []types.ReservedPort) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		buf.WriteString(strconv.Itoa(e.Port))
		for _, f := range e.Flags {
			buf.WriteByte(' ')
			buf.WriteString(f)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
