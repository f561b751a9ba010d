// Package device models the execution environment kernels launch into: a
// small set of logical devices, each with a fabric of compute cores and an
// ordered asynchronous command stream. On this backend the cores are host
// worker goroutines, but the submission and synchronization semantics match
// what an accelerator runtime exposes.
package device

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/cpu"
)

// Device is a logical compute device. Kernels partition work across its
// cores; commands touching its memory are ordered through its streams.
type Device struct {
	id    int
	name  string
	cores int
	pool  *corePool

	mu     sync.Mutex
	stream *Stream
}

var (
	registryMu sync.Mutex
	devices    []*Device
	current    *Device
)

// New registers a device with the given core count. A core count of zero or
// less uses GOMAXPROCS.
func New(name string, cores int) *Device {
	if cores < 1 {
		cores = runtime.GOMAXPROCS(0)
	}
	if cores < 1 {
		cores = 1
	}
	registryMu.Lock()
	defer registryMu.Unlock()
	d := &Device{
		id:    len(devices),
		name:  name,
		cores: cores,
		pool:  newCorePool(cores),
	}
	devices = append(devices, d)
	if current == nil {
		current = d
	}
	return d
}

var (
	defaultOnce sync.Once
	defaultDev  *Device
)

// Default returns the process default device, creating it on first use.
func Default() *Device {
	defaultOnce.Do(func() {
		defaultDev = New("cpu0", 0)
	})
	return defaultDev
}

// Current returns the currently selected device.
func Current() *Device {
	d := Default()
	registryMu.Lock()
	defer registryMu.Unlock()
	if current != nil {
		return current
	}
	return d
}

func (d *Device) ID() int      { return d.id }
func (d *Device) Name() string { return d.name }

// Cores returns the number of compute cores the launch planner may assume.
func (d *Device) Cores() int { return d.cores }

// Features lists ISA extensions of the underlying hardware, for the device
// descriptor only. Kernels do not branch on these.
func (d *Device) Features() []string {
	var feats []string
	if cpu.X86.HasAVX2 {
		feats = append(feats, "avx2")
	}
	if cpu.X86.HasAVX512F {
		feats = append(feats, "avx512f")
	}
	if cpu.X86.HasFMA {
		feats = append(feats, "fma")
	}
	if cpu.ARM64.HasASIMD {
		feats = append(feats, "asimd")
	}
	if cpu.ARM64.HasSVE {
		feats = append(feats, "sve")
	}
	return feats
}

func (d *Device) String() string {
	return fmt.Sprintf("%s(id=%d cores=%d)", d.name, d.id, d.cores)
}

// Stream returns the device's default command stream, starting it on first
// use.
func (d *Device) Stream() *Stream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		d.stream = d.NewStream()
	}
	return d.stream
}

// Run executes fn(group) for every group in [0, groups) on the device's core
// fabric and blocks until all groups finish. It returns the first recovered
// panic as an execution error. Groups must write disjoint memory; Run adds no
// synchronization between them.
func (d *Device) Run(groups int, fn func(group int)) error {
	if groups <= 0 {
		return nil
	}
	return d.pool.run(groups, fn)
}

// Guard scopes device selection. Enter makes d the current device and the
// returned guard restores the previous selection on Release. Release is
// idempotent so it is safe on all exit paths.
type Guard struct {
	prev     *Device
	released bool
}

// Enter selects d as the current device.
func Enter(d *Device) *Guard {
	registryMu.Lock()
	defer registryMu.Unlock()
	g := &Guard{prev: current}
	current = d
	return g
}

// Release restores the device selection the guard captured.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	registryMu.Lock()
	defer registryMu.Unlock()
	current = g.prev
}
