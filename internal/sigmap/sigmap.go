// Package sigmap loads the signal-number mapping of §6: a line-oriented
// file mapping a numeric id to a signal name, used to translate numeric-id
// input events at ingress and to annotate outgoing emissions with an id.
// Grounded on capture.ReadAllFromReader's buffered-scanner idiom.
package sigmap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Map is a loaded id<->name mapping.
type Map struct {
	byID   map[uint32]string
	byName map[string]uint32
}

func (m *Map) Name(id uint32) (string, bool) {
	n, ok := m.byID[id]
	return n, ok
}

func (m *Map) ID(name string) (uint32, bool) {
	id, ok := m.byName[name]
	return id, ok
}

// Names returns every signal name present in the mapping, in file order is
// not preserved (map iteration) — callers needing stable order should sort.
func (m *Map) Names() []string {
	out := make([]string, 0, len(m.byName))
	for name := range m.byName {
		out = append(out, name)
	}
	return out
}

// Load reads a signal-number mapping file (one "<id> <name>" pair per
// line; blank lines and lines starting with '#' are skipped).
func Load(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sigmap: open %s: %w", path, err)
	}
	defer f.Close()
	return ReadFrom(f)
}

func ReadFrom(r io.Reader) (*Map, error) {
	m := &Map{byID: make(map[uint32]string), byName: make(map[string]uint32)}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("sigmap: line %d: expected \"<id> <name>\", got %q", lineNo, line)
		}
		id, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("sigmap: line %d: bad id %q: %w", lineNo, fields[0], err)
		}
		name := fields[1]
		if existing, dup := m.byID[uint32(id)]; dup {
			return nil, fmt.Errorf("sigmap: line %d: id %d already mapped to %q", lineNo, id, existing)
		}
		m.byID[uint32(id)] = name
		m.byName[name] = uint32(id)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}
