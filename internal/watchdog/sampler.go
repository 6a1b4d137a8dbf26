package watchdog

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ProcSampler reads host metrics from /proc, the same source the original
// implementation's watchdog polls (§4.6). NetworkThroughput keeps the
// previous sample per interface to derive an instantaneous rate from
// /proc/net/dev's cumulative counters.
type ProcSampler struct {
	last     map[string]netSample
	cpuCount int
}

type netSample struct {
	at       time.Time
	rxBytes  int64
	txBytes  int64
}

// NewProcSampler builds a Sampler backed by /proc/loadavg and
// /proc/net/dev.
func NewProcSampler() *ProcSampler {
	return &ProcSampler{last: make(map[string]netSample), cpuCount: runtime.NumCPU()}
}

func (s *ProcSampler) CPUCount() int { return s.cpuCount }

func (s *ProcSampler) LoadAverage() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, errors.Wrap(err, "reading /proc/loadavg")
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0, errors.New("empty /proc/loadavg")
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, errors.Wrap(err, "parsing 1-minute load average")
	}
	return load, nil
}

// NetworkThroughput returns the bytes/sec transmitted and received on
// iface since the previous call; the first call for a given iface returns
// zero (no prior sample to diff against).
func (s *ProcSampler) NetworkThroughput(iface string) (int64, int64, error) {
	rx, tx, err := readNetDev(iface)
	if err != nil {
		return 0, 0, err
	}
	now := time.Now()
	prev, ok := s.last[iface]
	s.last[iface] = netSample{at: now, rxBytes: rx, txBytes: tx}
	if !ok {
		return 0, 0, nil
	}
	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return 0, 0, nil
	}
	return int64(float64(tx-prev.txBytes) / elapsed), int64(float64(rx-prev.rxBytes) / elapsed), nil
}

func readNetDev(iface string) (rxBytes, txBytes int64, err error) {
	f, err := os.Open("/proc/net/dev")
	if err != nil {
		return 0, 0, errors.Wrap(err, "opening /proc/net/dev")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		if name != iface {
			continue
		}
		fields := strings.Fields(line[idx+1:])
		if len(fields) < 9 {
			return 0, 0, errors.Errorf("malformed /proc/net/dev line for %s", iface)
		}
		rxBytes, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, 0, errors.Wrap(err, "parsing rx bytes")
		}
		txBytes, err = strconv.ParseInt(fields[8], 10, 64)
		if err != nil {
			return 0, 0, errors.Wrap(err, "parsing tx bytes")
		}
		return rxBytes, txBytes, nil
	}
	return 0, 0, errors.Errorf("interface %s not found in /proc/net/dev", iface)
}

// Is10GbE reports the interface's advertised link speed via
// /sys/class/net/<iface>/speed, treating anything at or above 10000 Mb/s
// as 10GbE.
func (s *ProcSampler) Is10GbE(iface string) (bool, error) {
	data, err := os.ReadFile("/sys/class/net/" + iface + "/speed")
	if err != nil {
		return false, errors.Wrapf(err, "reading link speed for %s", iface)
	}
	speed, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, errors.Wrap(err, "parsing link speed")
	}
	return speed >= 10000, nil
}
