package simulation

import (
	"errors"
	"os"

	"github.com/spf13/afero"
)

// FaultInjector provides deterministic fault injection for simulation testing
type FaultInjector struct {
	rand *DeterministicRand

	// Fault probabilities (0.0 to 1.0)
	DiskFullProbability     float64
	CorruptionProbability   float64
	SlowIOProbability       float64
	CrashProbability        float64
	PartialWriteProbability float64

	// Fault counters
	DiskFullCount     int
	CorruptionCount   int
	SlowIOCount       int
	CrashCount        int
	PartialWriteCount int

	// Fault modes
	Enabled bool
}

// NewFaultInjector creates a fault injector with the given random source
func NewFaultInjector(rand *DeterministicRand) *FaultInjector {
	return &FaultInjector{
		rand:    rand,
		Enabled: true,

		// Default probabilities (conservative)
		DiskFullProbability:     0.02,
		CorruptionProbability:   0.01,
		SlowIOProbability:       0.05,
		CrashProbability:        0.10,
		PartialWriteProbability: 0.03,
	}
}

// SetAggressiveMode enables extreme fault injection (for stress testing)
func (f *FaultInjector) SetAggressiveMode() {
	f.DiskFullProbability = 0.10
	f.CorruptionProbability = 0.05
	f.SlowIOProbability = 0.15
	f.CrashProbability = 0.20
	f.PartialWriteProbability = 0.08
}

func (f *FaultInjector) chance(p float64, counter *int) bool {
	if !f.Enabled {
		return false
	}
	if f.rand.Chance(p) {
		*counter++
		return true
	}
	return false
}

// ShouldInjectDiskFull returns true if disk full error should be injected
func (f *FaultInjector) ShouldInjectDiskFull() bool {
	return f.chance(f.DiskFullProbability, &f.DiskFullCount)
}

// ShouldInjectCorruption returns true if data corruption should be injected
func (f *FaultInjector) ShouldInjectCorruption() bool {
	return f.chance(f.CorruptionProbability, &f.CorruptionCount)
}

// ShouldInjectSlowIO returns true if I/O delay should be injected
func (f *FaultInjector) ShouldInjectSlowIO() bool {
	return f.chance(f.SlowIOProbability, &f.SlowIOCount)
}

// ShouldInjectCrash returns true if a crash mid-operation should be injected
func (f *FaultInjector) ShouldInjectCrash() bool {
	return f.chance(f.CrashProbability, &f.CrashCount)
}

// ShouldInjectPartialWrite returns true if a partial (torn) write should be injected
func (f *FaultInjector) ShouldInjectPartialWrite() bool {
	return f.chance(f.PartialWriteProbability, &f.PartialWriteCount)
}

// Stats returns fault injection statistics
func (f *FaultInjector) Stats() FaultStats {
	return FaultStats{
		DiskFullCount:     f.DiskFullCount,
		CorruptionCount:   f.CorruptionCount,
		SlowIOCount:       f.SlowIOCount,
		CrashCount:        f.CrashCount,
		PartialWriteCount: f.PartialWriteCount,
		TotalFaults:       f.DiskFullCount + f.CorruptionCount + f.SlowIOCount + f.CrashCount + f.PartialWriteCount,
	}
}

// FaultStats tracks fault injection counts
type FaultStats struct {
	DiskFullCount     int
	CorruptionCount   int
	SlowIOCount       int
	CrashCount        int
	PartialWriteCount int
	TotalFaults       int
}

// FaultProfile defines a named set of fault probabilities
type FaultProfile struct {
	Name        string
	Description string

	DiskFullProbability     float64
	CorruptionProbability   float64
	SlowIOProbability       float64
	CrashProbability        float64
	PartialWriteProbability float64
}

// ConservativeProfile returns a low-fault profile for basic resilience testing
func ConservativeProfile() FaultProfile {
	return FaultProfile{
		Name:                    "conservative",
		Description:             "Low fault rates for basic resilience testing",
		DiskFullProbability:     0.01,
		CorruptionProbability:   0.005,
		SlowIOProbability:       0.02,
		CrashProbability:        0.05,
		PartialWriteProbability: 0.01,
	}
}

// AggressiveProfile returns a high-fault profile for stress testing
func AggressiveProfile() FaultProfile {
	return FaultProfile{
		Name:                    "aggressive",
		Description:             "High fault rates for extreme stress testing",
		DiskFullProbability:     0.10,
		CorruptionProbability:   0.05,
		SlowIOProbability:       0.15,
		CrashProbability:        0.20,
		PartialWriteProbability: 0.08,
	}
}

// ChaosProfile returns extreme fault rates for testing absolute limits
func ChaosProfile() FaultProfile {
	return FaultProfile{
		Name:                    "chaos",
		Description:             "Extreme fault rates to test absolute limits",
		DiskFullProbability:     0.20,
		CorruptionProbability:   0.10,
		SlowIOProbability:       0.25,
		CrashProbability:        0.30,
		PartialWriteProbability: 0.15,
	}
}

// ApplyProfile configures a FaultInjector with the given profile
func (f *FaultInjector) ApplyProfile(profile FaultProfile) {
	f.DiskFullProbability = profile.DiskFullProbability
	f.CorruptionProbability = profile.CorruptionProbability
	f.SlowIOProbability = profile.SlowIOProbability
	f.CrashProbability = profile.CrashProbability
	f.PartialWriteProbability = profile.PartialWriteProbability
}

// FaultyFs decorates an afero.Fs with deterministic fault injection,
// exercising the Atomic File Writer's crash points (spec.md §8 P3):
// disk-full on create, torn/corrupted writes to the temp file, and
// interrupted renames that must never promote a partial temp file.
type FaultyFs struct {
	afero.Fs
	injector *FaultInjector
}

// NewFaultyFs wraps inner with fault injection driven by injector.
func NewFaultyFs(inner afero.Fs, injector *FaultInjector) *FaultyFs {
	return &FaultyFs{Fs: inner, injector: injector}
}

func (f *FaultyFs) Create(name string) (afero.File, error) {
	if f.injector.ShouldInjectDiskFull() {
		return nil, errors.New("no space left on device")
	}
	file, err := f.Fs.Create(name)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, injector: f.injector}, nil
}

func (f *FaultyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_CREATE|os.O_WRONLY|os.O_RDWR) != 0 && f.injector.ShouldInjectDiskFull() {
		return nil, errors.New("no space left on device")
	}
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, injector: f.injector}, nil
}

func (f *FaultyFs) Rename(oldname, newname string) error {
	if f.injector.ShouldInjectCrash() {
		return errors.New("operation interrupted mid-rename")
	}
	return f.Fs.Rename(oldname, newname)
}

// faultyFile wraps an afero.File, injecting torn writes and bit
// corruption into Write calls made against it.
type faultyFile struct {
	afero.File
	injector *FaultInjector
}

func (f *faultyFile) Write(p []byte) (int, error) {
	if f.injector.ShouldInjectPartialWrite() && len(p) > 1 {
		cutoff := f.injector.rand.Intn(len(p)-1) + 1
		n, err := f.File.Write(p[:cutoff])
		if err != nil {
			return n, err
		}
		return n, errors.New("write interrupted")
	}
	if f.injector.ShouldInjectCorruption() {
		corrupted := make([]byte, len(p))
		copy(corrupted, p)
		idx := f.injector.rand.Intn(len(corrupted))
		corrupted[idx] = ^corrupted[idx]
		return f.File.Write(corrupted)
	}
	return f.File.Write(p)
}
