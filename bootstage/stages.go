package bootstage

import (
	"github.com/CascadeOS/CascadeOS-sub010/addr"
	"github.com/CascadeOS/CascadeOS-sub010/arch"
	"github.com/CascadeOS/CascadeOS-sub010/klayout"
	"github.com/CascadeOS/CascadeOS-sub010/klog"
	"github.com/CascadeOS/CascadeOS-sub010/ktask"
	"github.com/CascadeOS/CascadeOS-sub010/memmap"
	"github.com/CascadeOS/CascadeOS-sub010/pgtable"
	"github.com/CascadeOS/CascadeOS-sub010/physmem"
)

// Boot is the external collaborator describing how the bootloader handed
// control to the kernel: the physical memory map, where the kernel image
// and direct map were placed, and the set of CPUs available to bring up.
type Boot interface {
	MemoryMap() []memmap.Entry
	KernelBaseAddress() addr.VirtualAddress
	DirectMapAddress() addr.VirtualAddress
	CPUDescriptors() []CPUDescriptor
}

// CPUDescriptor identifies one CPU the bootloader discovered and lets stage
// 1 start it running from the bootloader-provided stack.
type CPUDescriptor interface {
	ArchitectureProcessorID() uint32
	// Boot starts this CPU executing entry with task installed as its
	// current task. Returns once the CPU has been sent on its way, not
	// once it reaches entry.
	Boot(task *ktask.Task, entry func())
}

// Paging is the external, per-architecture page-table collaborator: it
// builds concrete pgtable.PageTable instances and knows how to install one
// into the calling CPU's translation-root register.
type Paging interface {
	StandardPageSize() addr.Size
	LargestPageSize() addr.Size
	CreatePageTable(rng addr.VirtualRange) (pgtable.PageTable, error)
	LoadPageTable(pt pgtable.PageTable)
}

// Timer is the external collaborator that arms the periodic scheduling
// interrupt on the calling CPU.
type Timer interface {
	EnablePeriodic()
}

// Discovery performs stage 4's bus enumeration (PCI, ACPI, or a platform's
// device tree); the concrete strategy is an external collaborator.
type Discovery interface {
	DiscoverDevices() error
}

// ExecutorInit installs the per-CPU arch state (GDT/IDT/TSS or the
// equivalent) needed before arch.CPUID and arch.Current are meaningful on
// the calling CPU, and returns this CPU's logical id.
type ExecutorInit interface {
	InstallExecutorState() uint32
}

// Kernel holds the state that accumulates across the boot stages and is
// shared by every executor from stage 2 onward.
type Kernel struct {
	Boot          Boot
	Paging        Paging
	Timer         Timer
	Discovery     Discovery
	ExecInit      ExecutorInit
	Scheduler     ktask.Scheduler
	StartUserTask func() *ktask.Task // builds the stage-4 task (see stage4Task); called once, in stage 3

	Bootstrap     *physmem.BootstrapAllocator
	Pages         *physmem.Pages
	DirectMap     physmem.DirectMap
	Layout        *klayout.Chain
	CorePageTable pgtable.PageTable

	stage3 *Barrier
}

// RunStage1 performs the single-threaded, bootstrap-CPU-only setup: early
// logging, the memory map, the frozen kernel layout, the bootstrap frame
// allocator, the core page table, the heaps, and the barriers every later
// stage will rendezvous on. It then starts every other discovered CPU into
// RunStage2 and returns, so the caller can tail-call RunStage2 itself for
// the bootstrap CPU.
func RunStage1(k *Kernel, sizes klayout.Sizes, directMapSize addr.Size, bootstrapTask *ktask.Task) error {
	klog.Infof("stage1: bringing up memory layout")

	entries := k.Boot.MemoryMap()
	k.Bootstrap = physmem.NewBootstrapAllocator(entries)
	k.Layout = klayout.Build(k.Boot, sizes, directMapSize)
	k.DirectMap = physmem.NewDirectMap(k.Boot.DirectMapAddress(), directMapSize)

	pt, err := k.Paging.CreatePageTable(addr.VirtualRange{
		Base: addr.VirtualAddress(0),
		Size: addr.Size(^uint64(0)),
	})
	if err != nil {
		return err
	}
	k.CorePageTable = pt

	for _, r := range k.Layout.Layout.Regions() {
		if r.Tag != memmap.DirectMap && r.Tag != memmap.NonCachedDirectMap {
			continue
		}
		cacheability := pgtable.WriteBack
		if r.Tag == memmap.NonCachedDirectMap {
			cacheability = pgtable.Uncacheable
		}
		pr := addr.PhysicalRange{Base: 0, Size: r.Range.Size}
		mt := pgtable.MapType{Protection: pgtable.ReadWrite, Cacheability: cacheability, Global: true}
		if err := pgtable.MapRange(pt, r.Range, pr, mt, bootstrapFrameAdapter{k.Bootstrap}); err != nil {
			return err
		}
	}

	k.Pages = physmem.Init(entries, k.Bootstrap)

	descriptors := k.Boot.CPUDescriptors()
	k.stage3 = New(uint64(len(descriptors)) + 1)

	klog.Infof("stage1: starting %d additional executor(s)", len(descriptors))
	for _, cpu := range descriptors {
		cpu.Boot(bootstrapTask, func() { RunStage2(k) })
	}
	return nil
}

type bootstrapFrameAdapter struct{ b *physmem.BootstrapAllocator }

func (a bootstrapFrameAdapter) Allocate() (physmem.Frame, error) { return a.b.Allocate() }
func (a bootstrapFrameAdapter) Deallocate(f []physmem.Frame) {
	for _, fr := range f {
		a.b.Deallocate(fr)
	}
}

// RunStage2 runs on every CPU, including the bootstrap CPU, still on the
// stack the bootloader (or CPUDescriptor.Boot) handed it: it loads the core
// page table, installs this CPU's own arch state, arms the periodic
// scheduling interrupt, then tail-calls RunStage3 on the init task's stack.
func RunStage2(k *Kernel) {
	k.Paging.LoadPageTable(k.CorePageTable)
	id := k.ExecInit.InstallExecutorState()
	arch.CPUID = func() uint32 { return id }
	k.Timer.EnablePeriodic()
	RunStage3(k)
}

// RunStage3 runs on every CPU on its own init-task stack. Exactly one
// arriving executor is elected to load the interrupt-handler table and
// schedule stage 4; every executor, including the elected one, then drops
// into the scheduler.
func RunStage3(k *Kernel) {
	if k.stage3.Start() {
		klog.Infof("stage3: designated executor loading interrupt handlers")
		arch.Current.Enable()
		if k.StartUserTask != nil {
			k.Scheduler.QueueTask(stage4Task(k))
		}
		k.stage3.Complete()
	}
	k.Scheduler.Drop()
}

// stage4Task wraps RunStage4 as a schedulable task placeholder; the real
// Task construction (stack, entry trampoline) is owned by the scheduler
// collaborator, which Scheduler.QueueTask expects to already be populated.
// Kernel.StartUserTask is responsible for building that Task such that its
// entry point calls RunStage4(k) before creating the first user process.
func stage4Task(k *Kernel) *ktask.Task {
	return k.StartUserTask()
}

// RunStage4 performs bus discovery and logs boot completion; it does not
// create or schedule a user process itself. It runs once, on whichever executor the scheduler selected to run the task
// RunStage3 queued.
func RunStage4(k *Kernel) error {
	klog.Infof("stage4: discovering devices")
	if err := k.Discovery.DiscoverDevices(); err != nil {
		return err
	}
	klog.Infof("stage4: boot complete")
	return nil
}
