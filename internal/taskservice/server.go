package taskservice

import (
	"context"
	"fmt"
	"time"

	task "github.com/containerd/containerd/api/runtime/task/v2"
	"github.com/containerd/containerd/api/types"
	"github.com/containerd/errdefs"
	"github.com/containerd/ttrpc"
	typeurl "github.com/containerd/typeurl/v2"
	"google.golang.org/protobuf/types/known/emptypb"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/ferrovia/taskshim/internal/bundle"
	"github.com/ferrovia/taskshim/internal/container"
	"github.com/ferrovia/taskshim/internal/process"
)

// adapter implements task.TaskService (the generated ttrpc surface from
// containerd/containerd/api/runtime/task/v2) on top of a Service, in the
// same division of labor as the hcsshim reference's service.go/*_internal.go
// split: this file only translates wire types, every actual decision lives
// in service.go.
type adapter struct {
	svc *Service
}

var _ task.TaskService = (*adapter)(nil)

// Register builds a ttrpc server with svc registered as the task service
// and returns it ready for srv.Serve.
func Register(svc *Service) (*ttrpc.Server, error) {
	srv, err := ttrpc.NewServer()
	if err != nil {
		return nil, fmt.Errorf("new ttrpc server: %w", err)
	}
	task.RegisterTaskService(srv, &adapter{svc: svc})
	return srv, nil
}

func (a *adapter) Create(ctx context.Context, r *task.CreateTaskRequest) (*task.CreateTaskResponse, error) {
	opts, err := bundle.ReadOptions(r.Bundle)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	err = a.svc.Create(ctx, CreateRequest{
		ID:       r.ID,
		Bundle:   r.Bundle,
		Stdin:    r.Stdin,
		Stdout:   r.Stdout,
		Stderr:   r.Stderr,
		Terminal: r.Terminal,
		Options:  opts,
	})
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	c, err := a.svc.get(r.ID)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	return &task.CreateTaskResponse{Pid: uint32(c.Init().Pid())}, nil
}

func (a *adapter) Start(ctx context.Context, r *task.StartRequest) (*task.StartResponse, error) {
	if err := a.svc.Start(ctx, r.ID, r.ExecID); err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	c, err := a.svc.get(r.ID)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	p, err := c.Process(r.ExecID)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	return &task.StartResponse{Pid: uint32(processPid(p))}, nil
}

func (a *adapter) Delete(ctx context.Context, r *task.DeleteRequest) (*task.DeleteResponse, error) {
	c, err := a.svc.get(r.ID)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	p, perr := c.Process(r.ExecID)
	var pid, exitStatus int
	if perr == nil {
		pid = processPid(p)
		exitStatus = processExitStatus(p)
	}
	if err := a.svc.Delete(ctx, r.ID, r.ExecID); err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	return &task.DeleteResponse{Pid: uint32(pid), ExitStatus: uint32(exitStatus)}, nil
}

func (a *adapter) Pids(ctx context.Context, r *task.PidsRequest) (*task.PidsResponse, error) {
	infos, err := a.svc.Pids(ctx, r.ID)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	resp := &task.PidsResponse{}
	for _, i := range infos {
		resp.Processes = append(resp.Processes, &task.ProcessInfo{Pid: uint32(i.Pid)})
	}
	return resp, nil
}

func (a *adapter) Pause(ctx context.Context, r *task.PauseRequest) (*emptypb.Empty, error) {
	return nil, errdefs.ToGRPC(errdefs.ErrNotImplemented)
}

func (a *adapter) Resume(ctx context.Context, r *task.ResumeRequest) (*emptypb.Empty, error) {
	return nil, errdefs.ToGRPC(errdefs.ErrNotImplemented)
}

func (a *adapter) Checkpoint(ctx context.Context, r *task.CheckpointTaskRequest) (*emptypb.Empty, error) {
	return nil, errdefs.ToGRPC(errdefs.ErrNotImplemented)
}

func (a *adapter) Kill(ctx context.Context, r *task.KillRequest) (*emptypb.Empty, error) {
	if err := a.svc.Kill(ctx, r.ID, r.ExecID, r.Signal, r.All); err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	return &emptypb.Empty{}, nil
}

func (a *adapter) Exec(ctx context.Context, r *task.ExecProcessRequest) (*emptypb.Empty, error) {
	spec := &specs.Process{}
	if r.Spec != nil {
		if err := typeurl.UnmarshalTo(r.Spec, spec); err != nil {
			return nil, errdefs.ToGRPC(fmt.Errorf("unmarshal exec spec: %w", err))
		}
	}
	err := a.svc.Exec(ctx, ExecRequest{
		ContainerID: r.ID,
		ExecID:      r.ExecID,
		Stdin:       r.Stdin,
		Stdout:      r.Stdout,
		Stderr:      r.Stderr,
		Terminal:    r.Terminal,
		Spec:        spec,
	})
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	return &emptypb.Empty{}, nil
}

func (a *adapter) ResizePty(ctx context.Context, r *task.ResizePtyRequest) (*emptypb.Empty, error) {
	c, err := a.svc.get(r.ID)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	p, err := c.Process(r.ExecID)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	resizer, ok := p.(interface{ Resize(uint32, uint32) error })
	if !ok {
		return nil, errdefs.ToGRPC(errdefs.ErrNotImplemented)
	}
	if err := resizer.Resize(r.Width, r.Height); err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	return &emptypb.Empty{}, nil
}

func (a *adapter) CloseIO(ctx context.Context, r *task.CloseIORequest) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, nil
}

func (a *adapter) Update(ctx context.Context, r *task.UpdateTaskRequest) (*emptypb.Empty, error) {
	resources := &specs.LinuxResources{}
	if r.Resources != nil {
		if err := typeurl.UnmarshalTo(r.Resources, resources); err != nil {
			return nil, errdefs.ToGRPC(fmt.Errorf("unmarshal update resources: %w", err))
		}
	}
	if err := a.svc.Update(ctx, r.ID, resources); err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	return &emptypb.Empty{}, nil
}

func (a *adapter) Wait(ctx context.Context, r *task.WaitRequest) (*task.WaitResponse, error) {
	c, err := a.svc.get(r.ID)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	p, err := c.Process(r.ExecID)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	code, err := p.Wait(ctx)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	return &task.WaitResponse{ExitStatus: uint32(code)}, nil
}

// cgroup2MetricsTypeURL matches the type containerd's own cgroup2 metrics
// collector registers, so a client already set up to read a containerd
// shim's stats (e.g. ctr) decodes this Any the same way.
const cgroup2MetricsTypeURL = "io.containerd.cgroups.v2.Metrics"

func (a *adapter) Stats(ctx context.Context, r *task.StatsRequest) (*task.StatsResponse, error) {
	b, err := a.svc.Stats(ctx, r.ID)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	return &task.StatsResponse{Stats: &types.Any{TypeUrl: cgroup2MetricsTypeURL, Value: b}}, nil
}

func (a *adapter) Connect(ctx context.Context, r *task.ConnectRequest) (*task.ConnectResponse, error) {
	c, err := a.svc.get(r.ID)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	return &task.ConnectResponse{ShimPid: uint32(processPid(c.Init()))}, nil
}

func (a *adapter) Shutdown(ctx context.Context, r *task.ShutdownRequest) (*emptypb.Empty, error) {
	return &emptypb.Empty{}, nil
}

func (a *adapter) State(ctx context.Context, r *task.StateRequest) (*task.StateResponse, error) {
	c, err := a.svc.get(r.ID)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	p, err := c.Process(r.ExecID)
	if err != nil {
		return nil, errdefs.ToGRPC(err)
	}
	return &task.StateResponse{
		ID:     r.ID,
		ExecID: r.ExecID,
		Pid:    uint32(processPid(p)),
		Status: taskStatus(p.Status()),
	}, nil
}

func processPid(p container.LifecycleProcess) int {
	type pidHaver interface{ Pid() int }
	if ph, ok := p.(pidHaver); ok {
		return ph.Pid()
	}
	return 0
}

func processExitStatus(p container.LifecycleProcess) int {
	type exitStatusHaver interface {
		ExitStatus() (int, time.Time)
	}
	if eh, ok := p.(exitStatusHaver); ok {
		code, _ := eh.ExitStatus()
		return code
	}
	return 0
}

func taskStatus(s process.Status) task.Status {
	switch s {
	case process.StatusCreated:
		return task.Status_CREATED
	case process.StatusRunning:
		return task.Status_RUNNING
	case process.StatusStopped:
		return task.Status_STOPPED
	default:
		return task.Status_UNKNOWN
	}
}
