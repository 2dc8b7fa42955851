package shim

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	apitypes "github.com/containerd/containerd/api/types"
	"github.com/containerd/containerd/v2/pkg/shim"
	"github.com/containerd/log"
)

// https://pubs.opengroup.org/onlinepubs/9699919799/utilities/V3_chap02.html#tag_18_21_18
const exitCodeSignal = 128

const pidFile = "bf.pid"

// Version is reported through the runtime info.
var Version = "v0.1.0"

// comptime override for debug flag
// set with `-ldflags="-X 'github.com/MarcinKonowalczyk/tapebf/shim.debug=true'"`
var debug string

type manager struct {
	name string
}

func NewManager(name string) shim.Manager {
	return manager{name: name}
}

var _ shim.Manager = manager{}

func (m manager) Name() string {
	return m.name
}

// Start re-executes this binary as the long running shim process and hands
// its ttrpc socket back to containerd.
func (m manager) Start(ctx context.Context, id string, opts shim.StartOpts) (params shim.BootstrapParams, retErr error) {
	log.G(ctx).WithField("id", id).Debug("start shim")

	self, err := os.Executable()
	if err != nil {
		return params, fmt.Errorf("getting executable of current process: %w", err)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return params, fmt.Errorf("getting current working directory: %w", err)
	}

	var args []string
	if opts.Debug || debug != "" {
		args = append(args, "-debug")
	}

	cmd, err := shim.Command(ctx, &shim.CommandConfig{
		Runtime:      self,
		Address:      opts.Address,
		TTRPCAddress: opts.TTRPCAddress,
		Path:         cwd,
		Args:         args,
	})
	if err != nil {
		return params, fmt.Errorf("creating shim command: %w", err)
	}

	sockAddr, err := shim.SocketAddress(ctx, opts.Address, id, opts.Debug)
	if err != nil {
		return params, fmt.Errorf("getting a socket address: %w", err)
	}
	socket, err := shim.NewSocket(sockAddr)
	if err != nil {
		return params, fmt.Errorf("creating socket: %w", err)
	}
	sockF, err := socket.File()
	if err != nil {
		return params, fmt.Errorf("getting shim socket file descriptor: %w", err)
	}
	cmd.ExtraFiles = append(cmd.ExtraFiles, sockF)

	if err := startLocked(cmd); err != nil {
		sockF.Close()
		return params, err
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			if _, ok := err.(*exec.ExitError); !ok {
				log.G(ctx).WithError(err).Errorf("failed to wait for shim process %d", cmd.Process.Pid)
			}
		}
	}()

	if err := shim.AdjustOOMScore(cmd.Process.Pid); err != nil {
		return params, fmt.Errorf("adjusting shim process OOM score: %w", err)
	}

	return shim.BootstrapParams{
		Version:  2,
		Address:  sockAddr,
		Protocol: "ttrpc",
	}, nil
}

// startLocked starts cmd with the calling goroutine locked to its OS thread.
func startLocked(cmd *exec.Cmd) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting shim command: %w", err)
	}
	return nil
}

// Stop kills whatever process the task's pid file names. Tasks run inside the
// shim process, so that is the shim itself.
func (m manager) Stop(ctx context.Context, id string) (shim.StopStatus, error) {
	log.G(ctx).WithField("id", id).Debug("stop shim")

	bundles, err := bundlesDir()
	if err != nil {
		return shim.StopStatus{}, err
	}
	pid, err := readPidFile(pidFilePath(bundles, id))
	if err != nil {
		return shim.StopStatus{}, fmt.Errorf("reading pid file: %w", err)
	}
	if err := killProcess(pid); err != nil {
		log.G(ctx).WithError(err).Warnf("failed to kill process %d", pid)
	}

	return shim.StopStatus{
		Pid:        pid,
		ExitedAt:   time.Now(),
		ExitStatus: exitCodeSignal + int(syscall.SIGKILL),
	}, nil
}

// killProcess sends SIGKILL to pid if it is still alive. Non-positive pids are
// ignored.
func killProcess(pid int) error {
	if pid <= 0 {
		return nil
	}
	// signal 0 only checks that the pid exists
	if err := syscall.Kill(pid, syscall.Signal(0)); err != nil {
		return nil
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}

func (m manager) Info(ctx context.Context, optionsR io.Reader) (*apitypes.RuntimeInfo, error) {
	return &apitypes.RuntimeInfo{
		Name: m.name,
		Version: &apitypes.RuntimeVersion{
			Version: Version,
		},
	}, nil
}

// bundlesDir is the directory holding the bundle of every task. The shim runs
// inside the bundle of the task it was started for.
func bundlesDir() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current working directory: %w", err)
	}
	return filepath.Dir(cwd), nil
}

func pidFilePath(bundles, id string) string {
	return filepath.Join(bundles, id, pidFile)
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return -1, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// writePidFile records pid in the task's bundle. containerd falls back to the
// shim's "delete" command when the shim is gone, and this file is all it has
// to find the process.
func writePidFile(bundle string, pid int) error {
	path := filepath.Join(bundle, pidFile)
	if err := shim.WritePidFile(path, pid); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	// rw-r--r--
	if err := os.Chmod(path, 0644); err != nil {
		return fmt.Errorf("changing pid file permissions: %w", err)
	}
	return nil
}
