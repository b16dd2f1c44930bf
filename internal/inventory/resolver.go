package inventory

import (
	"fmt"
	"strconv"
)

// Hosts returns the hosts of the named group in listing order. An unknown
// or empty group yields an empty slice, not an error.
func (inv *Inventory) Hosts(group string) []Host {
	g, ok := inv.groups[group]
	if !ok {
		return nil
	}
	hosts := make([]Host, len(g.Hosts))
	copy(hosts, g.Hosts)
	return hosts
}

// Groups returns the names of all groups that list at least one host.
func (inv *Inventory) Groups() []string {
	var names []string
	for name, g := range inv.groups {
		if len(g.Hosts) > 0 {
			names = append(names, name)
		}
	}
	return names
}

// Resolve computes the effective configuration for hostname. Variables
// merge global-first, then each listed group in the supplied order (later
// groups win on conflicts), then host-specific variables. Within every
// family the native-prefixed key beats the legacy-prefixed key regardless
// of where in the merge either was set. Unknown groups contribute nothing.
func (inv *Inventory) Resolve(hostname string, groups []string) (HostConfig, error) {
	merged := make(map[string]string, len(inv.global))
	for k, v := range inv.global {
		merged[k] = v
	}
	for _, name := range groups {
		if g, ok := inv.groups[name]; ok {
			for k, v := range g.Vars {
				merged[k] = v
			}
		}
	}
	for k, v := range inv.hostVars[hostname] {
		merged[k] = v
	}

	cfg := HostConfig{
		Name: hostname,
		Host: hostname,
		User: processOwner(),
		Port: DefaultPort,
	}

	if v, ok := family(merged, NativeHostKey, LegacyHostKey); ok {
		cfg.Host = v
	}
	if v, ok := family(merged, NativeUserKey, LegacyUserKey); ok {
		cfg.User = v
	}
	if v, ok := family(merged, NativeKeyFileKey, LegacyKeyFileKey); ok {
		cfg.PrivateKey = v
	}
	if v, ok := family(merged, NativeConnectionKey, LegacyConnectionKey); ok {
		cfg.Local = v == connectionLocal
	}
	if v, ok := family(merged, NativePortKey, LegacyPortKey); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return HostConfig{}, fmt.Errorf("host %q: invalid port %q", hostname, v)
		}
		cfg.Port = port
	}

	return cfg, nil
}

// ResolveLocal synthesizes a localhost configuration for inventory-free
// operation: current process owner, local-mode execution. It requires no
// inventory and cannot fail.
func ResolveLocal() HostConfig {
	return HostConfig{
		Name:  "localhost",
		Host:  "localhost",
		User:  processOwner(),
		Port:  DefaultPort,
		Local: true,
	}
}

// family reads one variable family from the merged map, native key first.
func family(vars map[string]string, nativeKey, legacyKey string) (string, bool) {
	if v, ok := vars[nativeKey]; ok {
		return v, true
	}
	if v, ok := vars[legacyKey]; ok {
		return v, true
	}
	return "", false
}
