// Package watchdog implements the WatchDog sampler living inside every
// Minion (spec §4.6): a 1s loop reading host load and NIC throughput that
// freezes (SIGSTOP) and thaws (SIGCONT) the executor's helper processes
// under CPU-load or network pressure, so one overloaded minion doesn't
// starve its neighbors or saturate the shared network fabric.
package watchdog

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// childProcessNames are the helper processes a map/reduce task's executor
// spawns that the WatchDog is allowed to stop and resume (§4.6).
var childProcessNames = []string{"input_tool", "shuffle_tool", "tuo_merger"}

// Sampler is the host-metrics collaborator (§6, out of scope to implement
// against a real kernel here): load average, CPU count, and NIC
// throughput/class.
type Sampler interface {
	LoadAverage() (float64, error)
	CPUCount() int
	NetworkThroughput(iface string) (txBytesPerSec, rxBytesPerSec int64, err error)
	Is10GbE(iface string) (bool, error)
}

// ProcessController freezes/resumes the named child processes (§4.6).
// Concrete implementation signals each process whose /proc/<pid>/comm
// matches one of the names, via SIGSTOP/SIGCONT;
// abstracted here so policy logic is testable without real processes.
type ProcessController interface {
	Stop(names []string) error
	Resume(names []string) error
}

// OverloadObserver is passed the overloaded flag on every freeze and thaw,
// so the Minion's Query/CancelTask RPC handlers can answer with an empty
// reply while overloaded (§4.5, §4.6). A freeze for network pressure alone
// passes false.
type OverloadObserver interface {
	SetOverloaded(overloaded bool)
}

// WatchDog runs the 1s sampling loop and three-branch policy of §4.6.
type WatchDog struct {
	sampler    Sampler
	controller ProcessController
	observer   OverloadObserver
	iface      string
	flow10Gb   int64
	flow1Gb    int64
	logger     *logrus.Entry

	frozen     bool
	overloaded bool
	frozenAt   time.Time
}

// New builds a WatchDog. flow10Gb/flow1Gb are the NIC throughput
// thresholds (bytes/sec) for a 10GbE vs 1GbE interface (§6
// flow_limit_10gb/flow_limit_1gb).
func New(sampler Sampler, controller ProcessController, observer OverloadObserver, iface string, flow10Gb, flow1Gb int64, logger *logrus.Entry) *WatchDog {
	return &WatchDog{
		sampler:    sampler,
		controller: controller,
		observer:   observer,
		iface:      iface,
		flow10Gb:   flow10Gb,
		flow1Gb:    flow1Gb,
		logger:     logger,
	}
}

// Run samples every second until ctx is canceled.
func (w *WatchDog) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sampleOnce()
		}
	}
}

func (w *WatchDog) sampleOnce() {
	load, err := w.sampler.LoadAverage()
	if err != nil {
		w.logger.Warnf("reading load average failed: %v", err)
		return
	}
	n := w.sampler.CPUCount()
	if n < 1 {
		n = 1
	}

	tx, rx, err := w.sampler.NetworkThroughput(w.iface)
	if err != nil {
		w.logger.Warnf("reading NIC throughput failed: %v", err)
		tx, rx = 0, 0
	}
	limit := w.flow1Gb
	if is10, err := w.sampler.Is10GbE(w.iface); err == nil && is10 {
		limit = w.flow10Gb
	}

	switch {
	case load > 1.5*float64(n):
		w.freeze(true)
	case tx > limit || rx > limit:
		w.freeze(false)
	case w.frozen && load < 0.8*float64(n):
		w.thaw()
	}
}

// freeze stops the named helper processes. overloaded distinguishes the
// CPU-overload branch (also marks over_loaded) from the bandwidth branch
// (freezes only). frozen_time is stamped on first entry, not on repeated
// freeze calls while already frozen (§4.6).
func (w *WatchDog) freeze(overloaded bool) {
	if !w.frozen {
		w.frozenAt = time.Now()
		if err := w.controller.Stop(childProcessNames); err != nil {
			w.logger.Warnf("SIGSTOP of %v failed: %v", childProcessNames, err)
		}
	}
	w.frozen = true
	if overloaded && !w.overloaded {
		w.logger.Warnf("host overloaded, freezing task")
	}
	w.overloaded = w.overloaded || overloaded
	w.observer.SetOverloaded(w.overloaded)
}

func (w *WatchDog) thaw() {
	if !w.frozen {
		return
	}
	if err := w.controller.Resume(childProcessNames); err != nil {
		w.logger.Warnf("SIGCONT of %v failed: %v", childProcessNames, err)
	}
	w.logger.Infof("host load recovered after %s, resuming task", time.Since(w.frozenAt))
	w.frozen = false
	w.overloaded = false
	w.observer.SetOverloaded(false)
}
