package inventory

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// The section a parser line belongs to: a host-listing group, a group's
// vars block, or the global [all:vars] block.
type sectionKind int

const (
	sectionHosts sectionKind = iota
	sectionGroupVars
	sectionGlobalVars
)

// ungroupedName collects host lines that appear before any section header.
const ungroupedName = "ungrouped"

// Parse reads an INI-style inventory: [group] sections listing one host per
// line with optional inline key=value pairs, [group:vars] sections for
// group-scoped variables, and [all:vars] for globals. Comments (# or ;) and
// blank lines are skipped. Malformed section headers and vars lines without
// an "=" fail with a *FormatError; malformed inline pairs on host lines are
// skipped.
func Parse(r io.Reader) (*Inventory, error) {
	inv := &Inventory{
		groups:   make(map[string]*Group),
		global:   make(map[string]string),
		hostVars: make(map[string]map[string]string),
	}

	kind := sectionHosts
	current := inv.group(ungroupedName)

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			name, k, err := parseHeader(line, lineNo)
			if err != nil {
				return nil, err
			}
			kind = k
			if kind != sectionGlobalVars {
				current = inv.group(name)
			}
			continue
		}

		switch kind {
		case sectionGlobalVars:
			key, value, err := splitVar(line, lineNo)
			if err != nil {
				return nil, err
			}
			inv.global[key] = value
		case sectionGroupVars:
			key, value, err := splitVar(line, lineNo)
			if err != nil {
				return nil, err
			}
			current.Vars[key] = value
		case sectionHosts:
			inv.addHost(current, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	return inv, nil
}

// parseHeader parses "[name]", "[name:vars]" or "[all:vars]".
func parseHeader(line string, lineNo int) (name string, kind sectionKind, err error) {
	if !strings.HasSuffix(line, "]") {
		return "", 0, &FormatError{Line: lineNo, Msg: fmt.Sprintf("unterminated section header %q", line)}
	}
	inner := strings.TrimSpace(line[1 : len(line)-1])
	if inner == "" {
		return "", 0, &FormatError{Line: lineNo, Msg: "empty section name"}
	}

	name, suffix, found := strings.Cut(inner, ":")
	if !found {
		return name, sectionHosts, nil
	}
	if suffix != "vars" {
		return "", 0, &FormatError{Line: lineNo, Msg: fmt.Sprintf("unsupported section suffix %q", suffix)}
	}
	if name == "all" {
		return "", sectionGlobalVars, nil
	}
	return name, sectionGroupVars, nil
}

// splitVar splits "key=value" on the first "=". The key must be non-empty.
func splitVar(line string, lineNo int) (key, value string, err error) {
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", &FormatError{Line: lineNo, Msg: fmt.Sprintf("expected key=value, got %q", line)}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", &FormatError{Line: lineNo, Msg: "empty variable name"}
	}
	return key, strings.TrimSpace(value), nil
}

// addHost parses a host line: hostname followed by optional inline
// key=value pairs. Tokens that are not key=value are skipped.
func (inv *Inventory) addHost(g *Group, line string) {
	fields := strings.Fields(line)
	name := fields[0]

	host := Host{Name: name, Vars: make(map[string]string)}
	for _, tok := range fields[1:] {
		key, value, found := strings.Cut(tok, "=")
		if !found || key == "" {
			continue
		}
		host.Vars[key] = value
	}
	g.Hosts = append(g.Hosts, host)

	if len(host.Vars) > 0 {
		merged := inv.hostVars[name]
		if merged == nil {
			merged = make(map[string]string)
			inv.hostVars[name] = merged
		}
		for k, v := range host.Vars {
			merged[k] = v
		}
	}
}

// group returns the named group, creating it if needed.
func (inv *Inventory) group(name string) *Group {
	if g, ok := inv.groups[name]; ok {
		return g
	}
	g := &Group{Name: name, Vars: make(map[string]string)}
	inv.groups[name] = g
	return g
}
