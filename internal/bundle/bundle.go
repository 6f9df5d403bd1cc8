// Package bundle loads an OCI bundle's config.json and persists/reads the
// runtime-selection options a create request carries alongside it.
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// optionsFileName and runtimeFileName are where Options/the runtime binary
// name are persisted across a shim restart, named the way the Rust
// original's write_options/write_runtime helpers do (one small file each,
// rather than folding this into the bundle's own config.json).
const (
	optionsFileName = "options.json"
	runtimeFileName = "runtime"
)

// Options are the runtime-selection flags persisted in the bundle's
// options.json so a shim restart (e.g. across an exec on an existing
// container) can recover them. The task service's Create reads them from
// that file with ReadOptions and writes them back; it does not decode the
// create request's Any-typed options field.
type Options struct {
	BinaryName    string `json:"binary_name,omitempty"`
	Root          string `json:"root,omitempty"`
	SystemdCgroup bool   `json:"systemd_cgroup,omitempty"`
	NoPivotRoot   bool   `json:"no_pivot_root,omitempty"`
	NoNewKeyring  bool   `json:"no_new_keyring,omitempty"`
}

// Bundle is an OCI bundle loaded from disk: its path, its parsed spec, and
// the resolved absolute rootfs path.
type Bundle struct {
	Path   string
	Spec   specs.Spec
	Rootfs string
}

// Load reads path/config.json and resolves the rootfs path. Unlike the
// VM-targeting teacher version, no transformer chain runs here: this shim
// hands the bundle path straight to the OCI runtime CLI, which resolves
// rootfs itself relative to the bundle -- Load only needs Rootfs for the
// cases (e.g. validating the request) where the shim itself must know it.
func Load(ctx context.Context, path string) (*Bundle, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: bundle path cannot be empty", errdefs.ErrInvalidArgument)
	}

	specBytes, err := os.ReadFile(filepath.Join(path, "config.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: read bundle config: %v", errdefs.ErrInvalidArgument, err)
	}

	var spec specs.Spec
	if err := json.Unmarshal(specBytes, &spec); err != nil {
		return nil, fmt.Errorf("%w: parse bundle config: %v", errdefs.ErrInvalidArgument, err)
	}

	b := &Bundle{Path: path, Spec: spec}
	if err := resolveRootfsPath(b); err != nil {
		return nil, err
	}
	return b, nil
}

func resolveRootfsPath(b *Bundle) error {
	if b.Spec.Root == nil {
		return fmt.Errorf("%w: root path not specified", errdefs.ErrInvalidArgument)
	}
	if filepath.IsAbs(b.Spec.Root.Path) {
		b.Rootfs = b.Spec.Root.Path
	} else {
		b.Rootfs = filepath.Join(b.Path, b.Spec.Root.Path)
	}
	return nil
}

// WriteOptions persists opts to the bundle directory so a later exec or a
// shim restart can read the same runtime binary/root back without the
// manager resending them.
func WriteOptions(bundlePath string, opts Options) error {
	b, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("marshal bundle options: %w", err)
	}
	if err := os.WriteFile(filepath.Join(bundlePath, optionsFileName), b, 0o600); err != nil {
		return fmt.Errorf("write bundle options: %w", err)
	}
	return os.WriteFile(filepath.Join(bundlePath, runtimeFileName), []byte(opts.BinaryName), 0o600)
}

// ReadOptions reads back what WriteOptions persisted. A missing
// options.json (a bundle never passed explicit options) yields the zero
// Options, not an error: callers fall back to the "runc" default binary.
func ReadOptions(bundlePath string) (Options, error) {
	b, err := os.ReadFile(filepath.Join(bundlePath, optionsFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return Options{}, nil
		}
		return Options{}, fmt.Errorf("read bundle options: %w", err)
	}
	var opts Options
	if err := json.Unmarshal(b, &opts); err != nil {
		return Options{}, fmt.Errorf("parse bundle options: %w", err)
	}
	return opts, nil
}
