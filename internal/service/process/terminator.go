package process

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/pkgdeploy/internal/logger"
)

// Terminator kills processes by executable name.
type Terminator struct {
	// processes lists the running processes.
	processes func() ([]ps.Process, error)
	// kill terminates a process by ID.
	kill func(pid int) error
	// self is skipped so the deployer never kills itself.
	self int
}

// NewTerminator creates a Terminator for the processes of this machine.
func NewTerminator() *Terminator {
	return &Terminator{
		processes: ps.Processes,
		kill:      killProcess,
		self:      os.Getpid(),
	}
}

// Terminate kills every process whose executable matches one of the file names
// and returns how many were killed. Names are compared by base name and,
// on Windows, without regard to case.
func (t *Terminator) Terminate(ctx context.Context, files []string) (int, error) {
	if len(files) == 0 {
		return 0, nil
	}

	names := make(map[string]struct{}, len(files))
	for _, f := range files {
		names[normalize(filepath.Base(f))] = struct{}{}
	}

	processList, err := t.processes()
	if err != nil {
		return 0, fmt.Errorf("list processes: %w", err)
	}

	var killed int

	for _, p := range processList {
		if p.Pid() == t.self {
			continue
		}

		if _, found := names[normalize(p.Executable())]; !found {
			continue
		}

		logger.InfoKV(ctx, "Terminating process", "pid", p.Pid(), "executable", p.Executable())

		if err = t.kill(p.Pid()); err != nil {
			return killed, fmt.Errorf("terminate %s (%d): %w", p.Executable(), p.Pid(), err)
		}

		killed++
	}

	return killed, nil
}

func killProcess(pid int) error {
	runningProcess, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	return runningProcess.Kill()
}

func normalize(name string) string {
	if runtime.GOOS == "windows" {
		return strings.ToLower(name)
	}

	return name
}
