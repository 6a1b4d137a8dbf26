package watchdog

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
)

// SignalController sends SIGSTOP/SIGCONT to every process whose
// /proc/<pid>/comm matches one of the given names (§4.6). It looks the
// processes up fresh on every call rather than caching pids, since the
// executor may have respawned its helper subprocesses between freezes.
type SignalController struct{}

// NewSignalController builds the default ProcessController.
func NewSignalController() *SignalController {
	return &SignalController{}
}

func (c *SignalController) Stop(names []string) error {
	return c.signalAll(names, syscall.SIGSTOP)
}

func (c *SignalController) Resume(names []string) error {
	return c.signalAll(names, syscall.SIGCONT)
}

func (c *SignalController) signalAll(names []string, sig syscall.Signal) error {
	pids, err := pidsByName(names)
	if err != nil {
		return err
	}
	var firstErr error
	for _, pid := range pids {
		if err := syscall.Kill(pid, sig); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "signaling pid %d", pid)
		}
	}
	return firstErr
}

func pidsByName(names []string) ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, errors.Wrap(err, "reading /proc")
	}
	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[n] = struct{}{}
	}

	var pids []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		comm, err := os.ReadFile("/proc/" + entry.Name() + "/comm")
		if err != nil {
			continue
		}
		if _, ok := wanted[strings.TrimSpace(string(comm))]; ok {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}
