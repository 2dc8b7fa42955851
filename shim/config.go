package shim

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/MarcinKonowalczyk/tapebf/bf"
)

const configFilename = "config.json"

// environment variables of the container process which tune the interpreter
const (
	envEncoding = "BF_ENCODING"
	envInput    = "BF_INPUT"
)

type root struct {
	// Path is the path to the rootfs
	Path string `json:"path"`
}

type process struct {
	// Args is the command to run
	Args []string `json:"args"`
	// Env is the environment variables to set
	Env []string `json:"env"`
}

// the subset of the OCI runtime spec read from the bundle
type config struct {
	Root    root    `json:"root"`
	Process process `json:"process"`
}

type Config struct {
	Root       string
	Entrypoint string
	Path       []string
	Env        map[string]string
}

// ReadConfig reads the bundle's config.json. The process must have a single
// argument naming a .bf or .brainfuck file inside the rootfs.
func ReadConfig(path string) (*Config, error) {
	filePath := filepath.Join(path, configFilename)
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file %s not found", configFilename)
		}
		return nil, err
	}

	var cfg config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", configFilename, err)
	}

	if cfg.Root.Path == "" {
		return nil, fmt.Errorf("root path not found in config file %s", configFilename)
	}
	rootPath := cfg.Root.Path
	if !filepath.IsAbs(rootPath) {
		rootPath = filepath.Join(path, rootPath)
	}

	if len(cfg.Process.Args) != 1 {
		return nil, fmt.Errorf("incorrect number of args in the CMD. Expected 1, got %d", len(cfg.Process.Args))
	}
	arg0 := cfg.Process.Args[0]

	if ext := filepath.Ext(arg0); ext != ".bf" && ext != ".brainfuck" {
		return nil, fmt.Errorf("entry point (%s) is not a .bf file", arg0)
	}

	script := filepath.Join(rootPath, arg0)
	if _, err := os.Stat(script); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("script %s does not exist: %w", arg0, err)
		}
		return nil, fmt.Errorf("checking script %s: %w", arg0, err)
	}

	env := make(map[string]string, len(cfg.Process.Env))
	for _, kv := range cfg.Process.Env {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	var splitPath []string
	if p, ok := env["PATH"]; ok && p != "" {
		splitPath = strings.Split(p, ":")
	}

	return &Config{
		Root:       rootPath,
		Entrypoint: arg0,
		Path:       splitPath,
		Env:        env,
	}, nil
}

func (c *Config) FullPath() string {
	return filepath.Join(c.Root, c.Entrypoint)
}

// Encoding returns the output encoding requested with BF_ENCODING.
func (c *Config) Encoding() (bf.Encoding, error) {
	return bf.ParseEncoding(c.Env[envEncoding])
}

// ReadsStdin reports whether ',' should read the task's stdin (BF_INPUT=stdin)
// rather than always yielding zero.
func (c *Config) ReadsStdin() (bool, error) {
	switch v := c.Env[envInput]; v {
	case "", "zero":
		return false, nil
	case "stdin":
		return true, nil
	default:
		return false, fmt.Errorf("invalid %s %q", envInput, v)
	}
}

// Load reads and parses the entrypoint.
func (c *Config) Load() (*bf.Program, error) {
	source, err := os.ReadFile(c.FullPath())
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", c.Entrypoint, err)
	}
	return bf.Parse(string(source))
}
