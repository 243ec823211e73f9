package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-ingest/pkg/lorawan"
)

// DefaultFile is the registry file name used when none is configured.
const DefaultFile = "node_registry.json"

// nodeEntry is one device in the registry document.
type nodeEntry struct {
	AppSKey string `json:"appskey"`
}

// Registry maps device addresses to their application session keys. It is
// read-only after Load.
type Registry struct {
	keys map[string]lorawan.AES128Key
}

// New creates a registry from already parsed keys. Addresses are
// normalised to uppercase.
func New(keys map[string]lorawan.AES128Key) *Registry {
	r := &Registry{keys: make(map[string]lorawan.AES128Key, len(keys))}
	for addr, key := range keys {
		r.keys[strings.ToUpper(addr)] = key
	}
	return r
}

// Load reads the registry document. A missing or unreadable file yields an
// empty registry so that the agent still starts; every device is then
// unregistered.
func Load(filename string) *Registry {
	r, err := load(filename)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("file", filename).Msg("Node registry not found, all devices unregistered")
		} else {
			log.Warn().Err(err).Str("file", filename).Msg("Failed to load node registry, all devices unregistered")
		}
		return New(nil)
	}

	log.Info().Str("file", filename).Int("nodes", r.Len()).Msg("Node registry loaded")
	return r
}

func load(filename string) (*Registry, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}

	var doc map[string]nodeEntry
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse registry file: %w", err)
	}

	keys := make(map[string]lorawan.AES128Key, len(doc))
	for addr, entry := range doc {
		key, err := lorawan.ParseAES128Key(entry.AppSKey)
		if err != nil {
			log.Warn().Err(err).Str("devaddr", addr).Msg("Skipping registry entry with invalid appskey")
			continue
		}
		keys[addr] = key
	}

	return New(keys), nil
}

// Lookup returns the session key of a device. A missing entry is the
// normal case for foreign or unprovisioned nodes.
func (r *Registry) Lookup(devAddr string) (lorawan.AES128Key, bool) {
	key, ok := r.keys[strings.ToUpper(devAddr)]
	return key, ok
}

// Len returns the number of registered devices.
func (r *Registry) Len() int {
	return len(r.keys)
}
