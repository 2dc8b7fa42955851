package shim

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/MarcinKonowalczyk/tapebf/bf"
	"github.com/MarcinKonowalczyk/tapebf/utils"
)

// writeBundle lays out an OCI bundle whose rootfs holds the given scripts.
func writeBundle(t *testing.T, args []string, env []string, scripts map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	rootfs := filepath.Join(dir, "rootfs")
	utils.AssertNoError(t, os.MkdirAll(rootfs, 0755))
	for name, source := range scripts {
		utils.AssertNoError(t, os.WriteFile(filepath.Join(rootfs, name), []byte(source), 0644))
	}

	cfg := config{
		Root:    root{Path: "rootfs"},
		Process: process{Args: args, Env: env},
	}
	data, err := json.Marshal(cfg)
	utils.AssertNoError(t, err)
	utils.AssertNoError(t, os.WriteFile(filepath.Join(dir, configFilename), data, 0644))
	return dir
}

func TestReadConfig(t *testing.T) {
	dir := writeBundle(t,
		[]string{"/hello.bf"},
		[]string{"PATH=/usr/bin:/bin", "BF_ENCODING=raw", "BF_INPUT=stdin"},
		map[string]string{"hello.bf": "++."},
	)
	cfg, err := ReadConfig(dir)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, cfg.Root, filepath.Join(dir, "rootfs"))
	utils.AssertEqual(t, cfg.Entrypoint, "/hello.bf")
	utils.AssertEqualArrays(t, cfg.Path, []string{"/usr/bin", "/bin"})
	utils.AssertEqual(t, cfg.FullPath(), filepath.Join(dir, "rootfs", "hello.bf"))

	encoding, err := cfg.Encoding()
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, encoding, bf.Raw)
	stdin, err := cfg.ReadsStdin()
	utils.AssertNoError(t, err)
	utils.Assert(t, stdin, "BF_INPUT=stdin not honoured")

	program, err := cfg.Load()
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, program.String(), "++.")
}

func TestReadConfig_Defaults(t *testing.T) {
	dir := writeBundle(t, []string{"prog.brainfuck"}, nil, map[string]string{"prog.brainfuck": "+"})
	cfg, err := ReadConfig(dir)
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, len(cfg.Path), 0)

	encoding, err := cfg.Encoding()
	utils.AssertNoError(t, err)
	utils.AssertEqual(t, encoding, bf.Latin1)
	stdin, err := cfg.ReadsStdin()
	utils.AssertNoError(t, err)
	utils.Assert(t, !stdin, "stdin read by default")
}

func TestReadConfig_Errors(t *testing.T) {
	_, err := ReadConfig(t.TempDir())
	utils.AssertError(t, err)

	dir := writeBundle(t, []string{"a.bf", "b.bf"}, nil, nil)
	_, err = ReadConfig(dir)
	utils.AssertError(t, err)

	dir = writeBundle(t, []string{"run.sh"}, nil, map[string]string{"run.sh": "echo"})
	_, err = ReadConfig(dir)
	utils.AssertError(t, err)

	dir = writeBundle(t, []string{"missing.bf"}, nil, nil)
	_, err = ReadConfig(dir)
	utils.AssertErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_InvalidInput(t *testing.T) {
	cfg := &Config{Env: map[string]string{envInput: "keyboard"}}
	_, err := cfg.ReadsStdin()
	utils.AssertError(t, err)
}

func TestConfig_LoadMalformed(t *testing.T) {
	dir := writeBundle(t, []string{"bad.bf"}, nil, map[string]string{"bad.bf": "[[]"})
	cfg, err := ReadConfig(dir)
	utils.AssertNoError(t, err)
	_, err = cfg.Load()
	utils.AssertErrorIs(t, err, bf.ErrMalformedProgram)
}
