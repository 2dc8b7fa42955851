package shim

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MarcinKonowalczyk/tapebf/utils"
)

func TestManager_Info(t *testing.T) {
	m := NewManager("io.containerd.tapebf.v1")
	utils.AssertEqual(t, m.Name(), "io.containerd.tapebf.v1")

	info, err := m.Info(context.Background(), nil)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, info.Name, "io.containerd.tapebf.v1")
	utils.AssertEqual(t, info.Version.Version, Version)
}

func TestPidFile(t *testing.T) {
	bundles := t.TempDir()
	bundle := filepath.Join(bundles, "task1")
	utils.AssertNoError(t, os.Mkdir(bundle, 0755))

	utils.AssertNoError(t, writePidFile(bundle, 42))
	pid, err := readPidFile(pidFilePath(bundles, "task1"))
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, pid, 42)

	stat, err := os.Stat(filepath.Join(bundle, pidFile))
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, stat.Mode().Perm(), os.FileMode(0644))
}

func TestPidFile_Missing(t *testing.T) {
	_, err := readPidFile(pidFilePath(t.TempDir(), "nope"))
	utils.AssertErrorIs(t, err, os.ErrNotExist)
}

func TestKillProcess_IgnoresNonPositive(t *testing.T) {
	utils.AssertNoError(t, killProcess(0))
	utils.AssertNoError(t, killProcess(-1))
}
