package faketest

import (
	"github.com/CascadeOS/CascadeOS-sub010/addr"
	"github.com/CascadeOS/CascadeOS-sub010/arch/x86"
	"github.com/CascadeOS/CascadeOS-sub010/bootstage"
	"github.com/CascadeOS/CascadeOS-sub010/ktask"
	"github.com/CascadeOS/CascadeOS-sub010/memmap"
	"github.com/CascadeOS/CascadeOS-sub010/pgtable"
)

const gigabyte = addr.Size(1 << 30)

// Boot is a fixed, in-memory stand-in for the bootloader collaborator:
// a single free memory-map region and a caller-supplied set of CPUs.
type Boot struct {
	Entries    []memmap.Entry
	KernelBase addr.VirtualAddress
	DirectMap  addr.VirtualAddress
	CPUs       []CPUDescriptor
}

func (b *Boot) MemoryMap() []memmap.Entry              { return b.Entries }
func (b *Boot) KernelBaseAddress() addr.VirtualAddress { return b.KernelBase }
func (b *Boot) DirectMapAddress() addr.VirtualAddress  { return b.DirectMap }

// CPUDescriptors returns one descriptor per b.CPUs; bootstage's caller is
// expected to exclude the bootstrap CPU itself from this list.
func (b *Boot) CPUDescriptors() []bootstage.CPUDescriptor {
	out := make([]bootstage.CPUDescriptor, len(b.CPUs))
	for i := range b.CPUs {
		out[i] = &b.CPUs[i]
	}
	return out
}

// CPUDescriptor immediately invokes entry on a freshly spawned goroutine,
// standing in for a real CPU start-up IPI.
type CPUDescriptor struct {
	ID uint32
}

func (c *CPUDescriptor) ArchitectureProcessorID() uint32 { return c.ID }

func (c *CPUDescriptor) Boot(task *ktask.Task, entry func()) {
	go entry()
}

// Paging wraps a single PageTable as if every CreatePageTable call
// produced a fresh one; LoadPageTable is a no-op since there is no real
// translation-root register on a hosted runtime.
//
// Largest is used as set when non-zero; leaving it zero makes
// CreatePageTable consult the running host's arch/x86 feature probe (1 GiB
// when it reports support, the standard page size otherwise) the same way a real Paging collaborator
// would consult CPUID, so tests exercise the gigabyte-page path whenever
// the machine actually running them supports it.
type Paging struct {
	Standard addr.Size
	Largest  addr.Size
}

func (p *Paging) largest() addr.Size {
	if p.Largest != 0 {
		return p.Largest
	}
	if x86.SupportsGigabytePages() {
		return gigabyte
	}
	return p.Standard
}

func (p *Paging) StandardPageSize() addr.Size { return p.Standard }
func (p *Paging) LargestPageSize() addr.Size  { return p.largest() }

func (p *Paging) CreatePageTable(rng addr.VirtualRange) (pgtable.PageTable, error) {
	largest := p.largest()
	if largest > p.Standard {
		return NewPageTable(p.Standard, largest), nil
	}
	return NewPageTable(p.Standard), nil
}

func (p *Paging) LoadPageTable(pgtable.PageTable) {}

// Timer records whether the periodic interrupt was armed.
type Timer struct {
	Enabled bool
}

func (t *Timer) EnablePeriodic() { t.Enabled = true }

// Discovery returns the caller-supplied Err (nil by default) without
// touching any real bus; DeviceCount is not consulted.
type Discovery struct {
	DeviceCount int
	Err         error
}

func (d *Discovery) DiscoverDevices() error { return d.Err }

// ExecutorInit hands out sequential logical CPU ids.
type ExecutorInit struct {
	next uint32
}

func (e *ExecutorInit) InstallExecutorState() uint32 {
	id := e.next
	e.next++
	return id
}
