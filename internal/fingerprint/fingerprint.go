// Package fingerprint derives a best-effort, reinstall-resilient identifier
// from hardware and OS attributes.
package fingerprint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"runtime"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

type Attributes struct {
	Brand      string
	Model      string
	OSVersion  string
	HardwareID string
}

func (a Attributes) empty() bool {
	return a.Brand == "" && a.Model == "" && a.OSVersion == "" && a.HardwareID == ""
}

type Collector interface {
	Collect(ctx context.Context) (Attributes, error)
}

// Generate hashes the collected attributes. It returns "" when nothing could
// be collected; a missing fingerprint is not an error for callers.
func Generate(ctx context.Context, c Collector) string {
	if c == nil {
		return ""
	}
	a, err := c.Collect(ctx)
	if err != nil || a.empty() {
		return ""
	}
	sum := blake2b.Sum256([]byte(strings.Join([]string{a.Brand, a.Model, a.OSVersion, a.HardwareID}, "|")))
	return hex.EncodeToString(sum[:])
}

var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// SystemCollector reads attributes of the host it runs on.
type SystemCollector struct {
	// Root is prepended to every file path read, for tests.
	Root string
}

func (s SystemCollector) Collect(_ context.Context) (Attributes, error) {
	a := Attributes{
		Brand: runtime.GOOS,
		Model: runtime.GOARCH,
	}
	if host, err := os.Hostname(); err == nil {
		a.Model += "/" + host
	}
	a.OSVersion = s.osRelease()
	for _, p := range machineIDPaths {
		b, err := os.ReadFile(s.Root + p)
		if err == nil && len(bytes.TrimSpace(b)) > 0 {
			a.HardwareID = string(bytes.TrimSpace(b))
			break
		}
	}
	if a.HardwareID == "" {
		return a, errors.New("no hardware identifier available")
	}
	return a, nil
}

func (s SystemCollector) osRelease() string {
	f, err := os.Open(s.Root + "/etc/os-release")
	if err != nil {
		return ""
	}
	defer func() {
		_ = f.Close()
	}()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), "PRETTY_NAME="); ok {
			return strings.Trim(v, `"`)
		}
	}
	return ""
}
