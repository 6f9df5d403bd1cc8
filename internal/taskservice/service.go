// Package taskservice is the manager-facing surface: one Service per shim
// process, holding every Container this shim instance is responsible for
// and translating each request into the internal/container calls spec.md
// §4.7 describes. It is deliberately transport-agnostic (see server.go for
// the ttrpc wiring) so the lifecycle logic itself stays testable without a
// socket.
package taskservice

import (
	"context"
	"fmt"
	"sync"

	"github.com/containerd/log"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/ferrovia/taskshim/internal/bundle"
	"github.com/ferrovia/taskshim/internal/config"
	"github.com/ferrovia/taskshim/internal/container"
	"github.com/ferrovia/taskshim/internal/ociruntime"
	"github.com/ferrovia/taskshim/internal/process"
	"github.com/ferrovia/taskshim/internal/shimerrors"
)

// CreateRequest carries what the manager supplies for a new container,
// mirroring the fields spec.md §6's CreateTaskRequest collaborator names.
type CreateRequest struct {
	ID          string
	Bundle      string
	Stdin       string
	Stdout      string
	Stderr      string
	Terminal    bool
	Options     bundle.Options
	RuntimeRoot string
}

// ExecRequest carries what the manager supplies for a new exec.
type ExecRequest struct {
	ContainerID string
	ExecID      string
	Stdin       string
	Stdout      string
	Stderr      string
	Terminal    bool
	Spec        *specs.Process
}

// Service owns every Container this shim process is responsible for. A
// real containerd-family shim process is scoped to exactly one task, so in
// practice this map holds one entry; it stays a map (rather than a single
// field) to mirror spec.md §4.7's container registry and to let tests
// exercise more than one container without a second process.
type Service struct {
	mu         sync.Mutex
	containers map[string]*container.Container

	publish EventPublisher
}

// EventPublisher is how the task service reports lifecycle transitions
// back to the manager (spec.md §6's event-exchange collaborator). This
// module has no implementation of it; with a nil publisher, as
// internal/shim/manager passes, publishEvent does nothing.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event interface{}) error
}

// NewService constructs an empty Service publishing lifecycle events via
// publish.
func NewService(publish EventPublisher) *Service {
	return &Service{
		containers: make(map[string]*container.Container),
		publish:    publish,
	}
}

// Create loads the bundle, builds a Runtime bound to the options it
// carries, and creates the container's init process.
func (s *Service) Create(ctx context.Context, req CreateRequest) error {
	s.mu.Lock()
	if _, exists := s.containers[req.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: container %q already exists", shimerrors.ErrFailedPrecondition, req.ID)
	}
	s.mu.Unlock()

	canonicalBundle, err := config.CanonicalizeBundlePath(req.Bundle)
	if err != nil {
		return fmt.Errorf("%w: canonicalize bundle path: %v", shimerrors.ErrProtocol, err)
	}
	req.Bundle = canonicalBundle

	if _, err := bundle.Load(ctx, req.Bundle); err != nil {
		return err
	}
	if err := bundle.WriteOptions(req.Bundle, req.Options); err != nil {
		return err
	}

	root := req.RuntimeRoot
	if root == "" {
		root = req.Options.Root
	}
	rt := ociruntime.New(req.ID, ociruntime.Options{
		BinaryName:    req.Options.BinaryName,
		Root:          root,
		SystemdCgroup: req.Options.SystemdCgroup,
	})

	stdio := process.Stdio{Stdin: req.Stdin, Stdout: req.Stdout, Stderr: req.Stderr, Terminal: req.Terminal}
	c, err := container.Create(ctx, req.ID, req.Bundle, stdio, rt, process.CreateOpts{
		NoPivot:      req.Options.NoPivotRoot,
		NoNewKeyring: req.Options.NoNewKeyring,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.containers[req.ID] = c
	s.mu.Unlock()

	s.publishEvent(ctx, TopicCreate, req.ID, "")
	s.watchForExit(c.ID(), "", c.Init())
	return nil
}

// watchForExit blocks in a new goroutine on p's Wait and publishes a
// TopicExit event once it returns, so the manager learns of an exit it
// didn't itself request (an OOM kill, a crashing entrypoint, and so on)
// without polling.
func (s *Service) watchForExit(containerID, execID string, p interface {
	Wait(ctx context.Context) (int, error)
}) {
	go func() {
		p.Wait(context.Background())
		s.publishEvent(context.Background(), TopicExit, containerID, execID)
	}()
}

// Start starts either the init process (execID == "") or a named exec.
func (s *Service) Start(ctx context.Context, containerID, execID string) error {
	c, err := s.get(containerID)
	if err != nil {
		return err
	}
	if execID == "" {
		if err := c.Start(ctx); err != nil {
			return err
		}
		s.publishEvent(ctx, TopicStart, containerID, "")
		return nil
	}
	if err := c.StartExec(ctx, execID); err != nil {
		return err
	}
	s.publishEvent(ctx, TopicExecStarted, containerID, execID)
	if p, err := c.Process(execID); err == nil {
		s.watchForExit(containerID, execID, p)
	}
	return nil
}

// Kill signals either the init process or a named exec.
func (s *Service) Kill(ctx context.Context, containerID, execID string, signal uint32, all bool) error {
	c, err := s.get(containerID)
	if err != nil {
		return err
	}
	p, err := c.Process(execID)
	if err != nil {
		return err
	}
	return p.Kill(ctx, signal, all)
}

// Exec registers a new exec process.
func (s *Service) Exec(ctx context.Context, req ExecRequest) error {
	c, err := s.get(req.ContainerID)
	if err != nil {
		return err
	}
	stdio := process.Stdio{Stdin: req.Stdin, Stdout: req.Stdout, Stderr: req.Stderr, Terminal: req.Terminal}
	_, err = c.Exec(ctx, req.ExecID, stdio, req.Spec)
	return err
}

// Delete deletes the init process (cascading through every exec) when
// execID is empty, or a single exec otherwise. Deleting the init process
// also removes the container from the registry.
func (s *Service) Delete(ctx context.Context, containerID, execID string) error {
	c, err := s.get(containerID)
	if err != nil {
		return err
	}

	if execID != "" {
		err := c.DeleteExec(ctx, execID)
		if err == nil {
			s.publishEvent(ctx, TopicExecDeleted, containerID, execID)
		}
		return err
	}

	err = c.Delete(ctx)
	s.mu.Lock()
	delete(s.containers, containerID)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.publishEvent(ctx, TopicDelete, containerID, "")
	return nil
}

// Pids lists the pids in containerID's pid namespace.
func (s *Service) Pids(ctx context.Context, containerID string) ([]process.ProcessInfo, error) {
	c, err := s.get(containerID)
	if err != nil {
		return nil, err
	}
	p, err := c.Process("")
	if err != nil {
		return nil, err
	}
	return p.Ps(ctx)
}

// Stats returns cgroup metrics for the init process.
func (s *Service) Stats(ctx context.Context, containerID string) ([]byte, error) {
	c, err := s.get(containerID)
	if err != nil {
		return nil, err
	}
	p, err := c.Process("")
	if err != nil {
		return nil, err
	}
	_, metrics, err := p.Stats(ctx)
	return metrics, err
}

// Update applies new resource limits to the init process's cgroup.
func (s *Service) Update(ctx context.Context, containerID string, resources *specs.LinuxResources) error {
	c, err := s.get(containerID)
	if err != nil {
		return err
	}
	p, err := c.Process("")
	if err != nil {
		return err
	}
	return p.Update(ctx, resources)
}

func (s *Service) get(containerID string) (*container.Container, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[containerID]
	if !ok {
		return nil, fmt.Errorf("%w: container %q", shimerrors.ErrNotFound, containerID)
	}
	return c, nil
}

func (s *Service) publishEvent(ctx context.Context, topic, containerID, execID string) {
	if s.publish == nil {
		return
	}
	if err := s.publish.Publish(ctx, topic, Event{ContainerID: containerID, ExecID: execID}); err != nil {
		log.G(ctx).WithError(err).WithField("topic", topic).Warn("failed to publish task event")
	}
}
