package watchdog

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

type fakeSampler struct {
	load      float64
	cpus      int
	tx, rx    int64
	is10gbe   bool
}

func (s *fakeSampler) LoadAverage() (float64, error)      { return s.load, nil }
func (s *fakeSampler) CPUCount() int                      { return s.cpus }
func (s *fakeSampler) NetworkThroughput(iface string) (int64, int64, error) {
	return s.tx, s.rx, nil
}
func (s *fakeSampler) Is10GbE(iface string) (bool, error) { return s.is10gbe, nil }

type fakeController struct {
	stopped, resumed int
}

func (c *fakeController) Stop(names []string) error   { c.stopped++; return nil }
func (c *fakeController) Resume(names []string) error { c.resumed++; return nil }

type fakeObserver struct {
	overloaded bool
}

func (o *fakeObserver) SetOverloaded(overloaded bool) { o.overloaded = overloaded }

func testWatchDog(sampler *fakeSampler) (*WatchDog, *fakeController, *fakeObserver) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	controller := &fakeController{}
	observer := &fakeObserver{}
	wd := New(sampler, controller, observer, "eth0", 1000, 100, logrus.NewEntry(l))
	return wd, controller, observer
}

func TestSampleOnceFreezesAndMarksOverloadedUnderHighLoad(t *testing.T) {
	wd, controller, observer := testWatchDog(&fakeSampler{load: 9, cpus: 4})
	wd.sampleOnce()

	if controller.stopped != 1 {
		t.Fatalf("expected one Stop() call, got %d", controller.stopped)
	}
	if !observer.overloaded {
		t.Fatal("high load should mark the minion overloaded")
	}
	if !wd.frozen {
		t.Fatal("high load should freeze")
	}
}

func TestSampleOnceFreezesWithoutOverloadedUnderBandwidthPressure(t *testing.T) {
	wd, controller, observer := testWatchDog(&fakeSampler{load: 1, cpus: 4, tx: 2000})
	wd.sampleOnce()

	if controller.stopped != 1 {
		t.Fatalf("expected one Stop() call, got %d", controller.stopped)
	}
	if observer.overloaded {
		t.Fatal("bandwidth-only pressure must not mark the minion overloaded")
	}
	if !wd.frozen {
		t.Fatal("bandwidth pressure should still freeze")
	}
}

func TestSampleOnceThawsOnceLoadRecovers(t *testing.T) {
	sampler := &fakeSampler{load: 9, cpus: 4}
	wd, controller, observer := testWatchDog(sampler)
	wd.sampleOnce()
	if !wd.frozen {
		t.Fatal("setup: expected frozen after high load sample")
	}

	sampler.load = 1
	wd.sampleOnce()

	if controller.resumed != 1 {
		t.Fatalf("expected one Resume() call, got %d", controller.resumed)
	}
	if wd.frozen || observer.overloaded {
		t.Fatal("watchdog should have thawed and cleared overloaded once load recovered")
	}
}

func TestSampleOnceUses10GbEThreshold(t *testing.T) {
	wd, controller, _ := testWatchDog(&fakeSampler{load: 1, cpus: 4, tx: 500, is10gbe: true})
	wd.sampleOnce()
	if controller.stopped != 0 {
		t.Fatal("500 bytes/sec is below the 10GbE threshold of 1000 and should not freeze")
	}
}
