package inventory

import (
	"fmt"
	"os"
	"os/user"
)

// Variable families recognized by the resolver. Each family exists in a
// legacy-prefixed and a native-prefixed form; the native form always wins
// when both are set for the same host.
const (
	LegacyUserKey       = "ansible_user"
	LegacyPortKey       = "ansible_port"
	LegacyKeyFileKey    = "ansible_ssh_private_key_file"
	LegacyConnectionKey = "ansible_connection"
	LegacyHostKey       = "ansible_host"

	NativeUserKey       = "drover_user"
	NativePortKey       = "drover_port"
	NativeKeyFileKey    = "drover_private_key"
	NativeConnectionKey = "drover_connection"
	NativeHostKey       = "drover_host"
)

// connectionLocal is the connection-family value marking a host as
// local-execution-only.
const connectionLocal = "local"

// DefaultPort is the SSH port assumed when no port variable is set.
const DefaultPort = 22

// Host is one machine entry inside a group, with its inline variables.
type Host struct {
	Name string
	Vars map[string]string
}

// Group is a named, ordered collection of hosts plus group-scoped variables.
type Group struct {
	Name  string
	Hosts []Host
	Vars  map[string]string
}

// Inventory is the parsed host/group/variable description.
type Inventory struct {
	groups   map[string]*Group
	global   map[string]string            // [all:vars]
	hostVars map[string]map[string]string // merged inline vars per host
}

// HostConfig is the effective per-host connection configuration after the
// priority-based variable merge. It is derived on demand, never stored.
type HostConfig struct {
	Name       string // inventory hostname
	Host       string // connect address (after rename override)
	User       string
	Port       int
	PrivateKey string // identity file reference; empty means default keys/agent
	Local      bool   // execute on the control host, no transport
}

// Addr returns the host:port dial address.
func (c HostConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FormatError reports a malformed inventory line.
type FormatError struct {
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("inventory line %d: %s", e.Line, e.Msg)
}

// processOwner returns the current process owner's username. It degrades
// to the USER environment variable and finally "root" so that local-only
// resolution can never fail.
func processOwner() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "root"
}
