package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// serverDiscoveryPathOverride allows tests to redirect the discovery file.
var serverDiscoveryPathOverride string //nolint:gochecknoglobals // test hook

// SetServerDiscoveryPathOverride sets a test override for the discovery
// path. Pass "" to restore the default.
func SetServerDiscoveryPathOverride(path string) {
	serverDiscoveryPathOverride = path
}

// ServerDiscovery is written by `tally serve` so that other invocations can
// find the running API server.
type ServerDiscovery struct {
	StartedAt time.Time `toml:"started_at"`
	Addr      string    `toml:"addr"`
	PID       int       `toml:"pid"`
}

// ServerDiscoveryPath returns $XDG_RUNTIME_DIR/tally/server.toml, falling
// back to the system temp directory.
func ServerDiscoveryPath() string {
	if serverDiscoveryPathOverride != "" {
		return serverDiscoveryPathOverride
	}
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "tally", "server.toml")
}

// WriteServerDiscovery writes the discovery file, creating its directory
// if needed.
func WriteServerDiscovery(d ServerDiscovery) error {
	path := ServerDiscoveryPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(d); err != nil {
		return fmt.Errorf("encode server discovery: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// ReadServerDiscovery reads the discovery file. Returns os.ErrNotExist if
// no server has published one.
func ReadServerDiscovery() (ServerDiscovery, error) {
	var d ServerDiscovery
	if _, err := toml.DecodeFile(ServerDiscoveryPath(), &d); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ServerDiscovery{}, os.ErrNotExist
		}
		return ServerDiscovery{}, err
	}
	return d, nil
}

// RemoveServerDiscovery removes the discovery file (best-effort).
func RemoveServerDiscovery() {
	os.Remove(ServerDiscoveryPath()) //nolint:errcheck // best-effort cleanup on shutdown
}
