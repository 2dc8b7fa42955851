package shim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	taskAPI "github.com/containerd/containerd/api/runtime/task/v2"
	tasktypes "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/containerd/protobuf"
	ptypes "github.com/containerd/containerd/v2/pkg/protobuf/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/containerd/v2/pkg/shutdown"
	"github.com/containerd/containerd/v2/plugins"
	"github.com/containerd/errdefs"
	"github.com/containerd/fifo"
	"github.com/containerd/log"
	"github.com/containerd/plugin"
	"github.com/containerd/plugin/registry"
	"github.com/containerd/ttrpc"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/MarcinKonowalczyk/tapebf/bf"
)

// exit status of a task whose program failed at run time
const exitCodeFailure = 1

func init() {
	registry.Register(&plugin.Registration{
		Type: plugins.TTRPCPlugin,
		ID:   "task",
		Requires: []plugin.Type{
			plugins.InternalPlugin,
		},
		InitFn: func(ic *plugin.InitContext) (interface{}, error) {
			ss, err := ic.GetByID(plugins.InternalPlugin, "shutdown")
			if err != nil {
				return nil, err
			}
			return newTaskService(ic.Context, ss.(shutdown.Service))
		},
	})
}

// stdio of one task. Any of the three may be nil.
type stdio struct {
	in  io.ReadCloser
	out io.WriteCloser
	err io.WriteCloser
}

func (s stdio) Close() {
	if s.in != nil {
		s.in.Close()
	}
	if s.out != nil {
		s.out.Close()
	}
	if s.err != nil && s.err != s.out {
		s.err.Close()
	}
}

// task is a program executing inside the shim process.
type task struct {
	id       string
	program  *bf.Program
	encoding bf.Encoding
	stdin    bool
	io       stdio

	stdinPath  string
	stdoutPath string

	started bool
	cancel  context.CancelFunc

	done       context.Context
	markDone   func()
	exitTime   time.Time
	exitStatus int
}

func (t *task) String() string {
	if t.done.Err() != nil {
		return fmt.Sprintf("task:%s, exitTime:%s, exitStatus:%d", t.id, t.exitTime.Format(time.RFC3339), t.exitStatus)
	}
	if t.started {
		return fmt.Sprintf("task:%s running", t.id)
	}
	return fmt.Sprintf("task:%s created", t.id)
}

func (t *task) exited() bool {
	return t.done.Err() != nil
}

type taskService struct {
	mu       sync.RWMutex
	tasks    map[string]*task
	shutdown func()
}

func newTaskService(ctx context.Context, sd shutdown.Service) (taskAPI.TaskService, error) {
	return newService(sd.Shutdown), nil
}

func newService(shutdown func()) *taskService {
	return &taskService{
		tasks:    make(map[string]*task, 1),
		shutdown: shutdown,
	}
}

var _ shim.TTRPCService = &taskService{}

// RegisterTTRPC allows TTRPC services to be registered with the underlying server
func (s *taskService) RegisterTTRPC(server *ttrpc.Server) error {
	taskAPI.RegisterTaskService(server, s)
	return nil
}

func (s *taskService) get(id string) (*task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not created: %w", id, errdefs.ErrNotFound)
	}
	return t, nil
}

func (s *taskService) doneContext(id string) (context.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return t.done, nil
}

// add registers a parsed program under id. s.mu must be held.
func (s *taskService) add(id string, cfg *Config, program *bf.Program, sio stdio) (*task, error) {
	if _, ok := s.tasks[id]; ok {
		return nil, fmt.Errorf("task %s: %w", id, errdefs.ErrAlreadyExists)
	}

	encoding, err := cfg.Encoding()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrInvalidArgument, err)
	}
	readsStdin, err := cfg.ReadsStdin()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errdefs.ErrInvalidArgument, err)
	}

	done, markDone := context.WithCancel(context.Background())
	t := &task{
		id:       id,
		program:  program,
		encoding: encoding,
		stdin:    readsStdin,
		io:       sio,
		done:     done,
		markDone: markDone,
	}
	s.tasks[id] = t
	return t, nil
}

// openFifo opens the fifo at path, or returns nil when no path is given.
func openFifo(ctx context.Context, path string, flag int) (io.ReadWriteCloser, error) {
	if path == "" {
		return nil, nil
	}
	ok, err := fifo.IsFifo(path)
	if err != nil {
		return nil, fmt.Errorf("checking whether file %s is a fifo: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("file %s is not a fifo", path)
	}
	f, err := fifo.OpenFifo(ctx, path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("opening fifo %s: %w", path, err)
	}
	return f, nil
}

func openStdio(ctx context.Context, r *taskAPI.CreateTaskRequest) (stdio, error) {
	var sio stdio
	in, err := openFifo(ctx, r.Stdin, syscall.O_RDONLY)
	if err != nil {
		return sio, err
	}
	if in != nil {
		sio.in = in
	}

	out, err := openFifo(ctx, r.Stdout, syscall.O_WRONLY)
	if err != nil {
		sio.Close()
		return stdio{}, err
	}
	if out != nil {
		sio.out = out
	}

	stderr := r.Stderr
	if stderr == "" {
		stderr = r.Stdout
	}
	if stderr == r.Stdout {
		sio.err = sio.out
		return sio, nil
	}
	errw, err := openFifo(ctx, stderr, syscall.O_WRONLY)
	if err != nil {
		sio.Close()
		return stdio{}, err
	}
	if errw != nil {
		sio.err = errw
	}
	return sio, nil
}

// Create parses the bundle's program and opens its stdio. Nothing runs until
// Start.
func (s *taskService) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (*taskAPI.CreateTaskResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("create")

	cfg, err := ReadConfig(r.Bundle)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	program, err := cfg.Load()
	if err != nil {
		if errors.Is(err, bf.ErrMalformedProgram) {
			return nil, fmt.Errorf("%w: %w", errdefs.ErrInvalidArgument, err)
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[r.ID]; ok {
		return nil, errdefs.ErrAlreadyExists
	}

	sio, err := openStdio(ctx, r)
	if err != nil {
		return nil, err
	}

	t, err := s.add(r.ID, cfg, program, sio)
	if err != nil {
		sio.Close()
		return nil, err
	}
	t.stdinPath = r.Stdin
	t.stdoutPath = r.Stdout

	pid := os.Getpid()
	if err := writePidFile(r.Bundle, pid); err != nil {
		log.G(ctx).WithError(err).Warn("failed to write pid file")
	}

	return &taskAPI.CreateTaskResponse{
		Pid: uint32(pid),
	}, nil
}

// Start runs the task's program on its own goroutine.
func (s *taskService) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("start")

	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if t.started || t.exited() {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("task %s already started or exited", r.ID))
	}

	runCtx, cancel := context.WithCancel(log.WithLogger(context.Background(), log.G(ctx).WithField("id", r.ID)))
	t.started = true
	t.cancel = cancel
	go s.run(runCtx, t)

	return &taskAPI.StartResponse{
		Pid: uint32(os.Getpid()),
	}, nil
}

func (s *taskService) run(ctx context.Context, t *task) {
	var input bf.InputSource = bf.ZeroInput{}
	if t.stdin && t.io.in != nil {
		input = bf.NewReaderInput(t.io.in)
	}
	var output io.Writer
	if t.io.out != nil {
		output = t.io.out
	}

	interpreter := bf.NewInterpreter(t.program, input, output)
	interpreter.Encoding = t.encoding
	err := interpreter.RunContext(ctx)

	status := 0
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), ctx.Err() != nil:
		status = exitCodeSignal + int(syscall.SIGKILL)
	default:
		status = exitCodeFailure
		if t.io.err != nil {
			fmt.Fprintf(t.io.err, "%v\n", err)
		}
		log.G(ctx).WithError(err).Warn("program failed")
	}
	s.finish(ctx, t, status)
}

// finish records the exit of t and shuts the shim down once every task has
// exited.
func (s *taskService) finish(ctx context.Context, t *task, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.exited() {
		return
	}
	t.io.Close()
	t.exitStatus = status
	t.exitTime = time.Now()
	t.markDone()
	log.G(ctx).Debugf("%s", t)

	for _, other := range s.tasks {
		if !other.exited() {
			return
		}
	}
	log.G(ctx).Debug("all tasks exited. shutting down the shim")
	s.shutdown()
}

// Delete a task which has exited or was never started
func (s *taskService) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	log.G(ctx).WithField("id", r.ID).Debug("delete")

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if t.started && !t.exited() {
		return nil, errdefs.ErrFailedPrecondition.WithMessage(fmt.Sprintf("task %s is still running", r.ID))
	}
	if !t.started {
		t.io.Close()
	}
	delete(s.tasks, r.ID)

	return &taskAPI.DeleteResponse{
		Pid:        uint32(os.Getpid()),
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Exec an additional process inside the container
func (s *taskService) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented.WithMessage("Exec (task)")
}

// ResizePty of a process
func (s *taskService) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	return &ptypes.Empty{}, nil
}

// State returns runtime state of a task
func (s *taskService) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}

	status := tasktypes.Status_CREATED
	switch {
	case t.exited():
		status = tasktypes.Status_STOPPED
	case t.started:
		status = tasktypes.Status_RUNNING
	}

	return &taskAPI.StateResponse{
		ID:         r.ID,
		Pid:        uint32(os.Getpid()),
		Status:     status,
		Stdout:     t.stdoutPath,
		Stdin:      t.stdinPath,
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}

// Pause the container
func (s *taskService) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented.WithMessage("Pause (task)")
}

// Resume the container
func (s *taskService) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented.WithMessage("Resume (task)")
}

// Kill stops a running program and waits for it to exit. A task which was
// never started exits straight away.
func (s *taskService) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	log.G(ctx).WithField("id", r.ID).WithField("signal", r.Signal).Debug("kill")

	s.mu.RLock()
	t, err := s.get(r.ID)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	started, exited, cancel := t.started, t.exited(), t.cancel
	s.mu.RUnlock()

	switch {
	case exited:
		log.G(ctx).Warnf("task already exited: %s", r.ID)
		return &ptypes.Empty{}, nil
	case !started:
		s.finish(ctx, t, exitCodeSignal+int(syscall.SIGKILL))
		return &ptypes.Empty{}, nil
	}

	// The program only ever stops by cancellation, so every signal kills.
	// Closing the fifos releases a ',' or '.' blocked on them.
	cancel()
	if stdin := t.io.in; stdin != nil {
		stdin.Close()
	}
	if stdout := t.io.out; stdout != nil {
		stdout.Close()
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.done.Done():
	}
	return &ptypes.Empty{}, nil
}

// Pids returns the shim's pid, which every task runs in
func (s *taskService) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.get(r.ID); err != nil {
		return nil, err
	}
	return &taskAPI.PidsResponse{
		Processes: []*tasktypes.ProcessInfo{{Pid: uint32(os.Getpid())}},
	}, nil
}

// CloseIO closes the task's stdin, after which ',' reads zeros
func (s *taskService) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, err
	}
	if r.Stdin && t.io.in != nil {
		if err := t.io.in.Close(); err != nil {
			return nil, fmt.Errorf("closing stdin of %s: %w", r.ID, err)
		}
	}
	return &ptypes.Empty{}, nil
}

// Checkpoint the container
func (s *taskService) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented.WithMessage("Checkpoint (task)")
}

// Connect returns shim information of the underlying service
func (s *taskService) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, err := s.get(r.ID); err != nil {
		return nil, err
	}
	return &taskAPI.ConnectResponse{
		ShimPid: uint32(os.Getpid()),
		TaskPid: uint32(os.Getpid()),
	}, nil
}

// Shutdown is called after the underlying resources of the shim are cleaned up and the service can be stopped
func (s *taskService) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	log.G(ctx).Debug("shutdown")
	s.shutdown()
	return &ptypes.Empty{}, nil
}

// Stats returns empty stats
func (s *taskService) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	return &taskAPI.StatsResponse{
		Stats: &anypb.Any{},
	}, nil
}

// Update the live container
func (s *taskService) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrAborted.WithMessage("Update (task)")
}

// Wait for a task to exit
func (s *taskService) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
	done, err := s.doneContext(r.ID)
	if err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done.Done():
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, err := s.get(r.ID)
	if err != nil {
		return nil, fmt.Errorf("task was removed: %w", err)
	}

	return &taskAPI.WaitResponse{
		ExitStatus: uint32(t.exitStatus),
		ExitedAt:   protobuf.ToTimestamp(t.exitTime),
	}, nil
}
