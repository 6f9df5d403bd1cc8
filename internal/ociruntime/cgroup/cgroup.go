//go:build linux

// Package cgroup backs Process.Update/Stats for the init process: cgroup v2
// only, matching the OCI runtime's own assumption that userspace doesn't
// fight it over resource limits once the container is running.
package cgroup

import (
	"context"
	"fmt"

	cgroupsv2 "github.com/containerd/cgroups/v3/cgroup2"
	"github.com/containerd/cgroups/v3/cgroup2/stats"
	"github.com/containerd/log"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// Manager abstracts cgroup v2 operations for one process's cgroup, loaded
// by pid at stats/update time rather than cached, since the process may not
// have existed yet when its owning Process was constructed.
type Manager interface {
	Stats(ctx context.Context) (*stats.Metrics, error)
	Update(ctx context.Context, resources *specs.LinuxResources) error
}

type manager struct {
	m *cgroupsv2.Manager
}

func (m *manager) Stats(ctx context.Context) (*stats.Metrics, error) {
	metrics, err := m.m.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: cgroup stat: %v", shimerrors.ErrIO, err)
	}
	return metrics, nil
}

func (m *manager) Update(ctx context.Context, resources *specs.LinuxResources) error {
	if err := m.m.Update(cgroupsv2.ToResources(resources)); err != nil {
		log.G(ctx).WithError(err).Warn("cgroup update failed")
		return fmt.Errorf("%w: cgroup update: %v", shimerrors.ErrIO, err)
	}
	return nil
}

// LoadForPid resolves pid's own cgroup v2 group and returns a Manager bound
// to it. Called fresh on every Update/Stats rather than cached on Process,
// since the process may be re-parented or may not have started its cgroup
// membership at record-construction time.
func LoadForPid(ctx context.Context, pid int) (Manager, error) {
	path, err := cgroupsv2.PidGroupPath(pid)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve cgroup path for pid %d: %v", shimerrors.ErrIO, pid, err)
	}
	mgr, err := cgroupsv2.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load cgroup for pid %d: %v", shimerrors.ErrIO, pid, err)
	}
	return &manager{m: mgr}, nil
}
