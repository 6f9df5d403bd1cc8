//go:build !linux

package cgroup

import (
	"context"
	"fmt"

	"github.com/containerd/cgroups/v3/cgroup2/stats"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/ferrovia/taskshim/internal/shimerrors"
)

type Manager interface {
	Stats(ctx context.Context) (*stats.Metrics, error)
	Update(ctx context.Context, resources *specs.LinuxResources) error
}

// LoadForPid always fails on non-Linux: cgroups are a Linux-only concept.
func LoadForPid(ctx context.Context, pid int) (Manager, error) {
	return nil, fmt.Errorf("%w: cgroups are not available on this platform", shimerrors.ErrUnimplemented)
}
