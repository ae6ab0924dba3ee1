package simulation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVirtualClock_AdvanceFiresDueTimers(t *testing.T) {
	clock := NewVirtualClock(time.Unix(0, 0))
	fired := false
	clock.After(5*time.Second, func() { fired = true })

	timers := clock.Advance(10 * time.Second)
	require.Len(t, timers, 1)
	time.Sleep(10 * time.Millisecond) // let the timer's own goroutine run
	assert.True(t, fired)
}

func TestDeterministicRand_SameSeedSameSequence(t *testing.T) {
	a := NewDeterministicRand(42)
	b := NewDeterministicRand(42)

	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Intn(1000), b.Intn(1000))
	}
}

func TestSimulator_RulePersistsAcrossCleanRestart(t *testing.T) {
	sim := NewSimulator(1)
	sim.Faults().Enabled = false // isolate persistence from fault injection here
	sim.CreateRule("os.Exit(*)")

	ok, msg := RulePersistenceInvariant(sim)
	assert.True(t, ok, msg)
}

func TestSimulator_NoDuplicateRuleIDs(t *testing.T) {
	sim := NewSimulator(2)
	sim.Faults().Enabled = false
	for i := 0; i < 5; i++ {
		sim.GenerateRule()
	}

	ok, msg := NoDuplicateRulesInvariant(sim)
	assert.True(t, ok, msg)
}

func TestSimulator_AtomicWritesUnderAggressiveFaults(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		sim := NewSimulator(seed)
		sim.Faults().ApplyProfile(AggressiveProfile())

		for i := 0; i < 10; i++ {
			sim.CreateRule("os.Exit(*)")
		}

		ok, msg := AtomicWriteInvariant(sim)
		assert.True(t, ok, "seed %d: %s", seed, msg)
	}
}

func TestSimulator_IdempotentRecovery(t *testing.T) {
	sim := NewSimulator(3)
	sim.Faults().Enabled = false
	sim.CreateRule("os.Exit(*)")
	sim.CreateRule("fmt.Println(*)")

	ok, msg := IdempotentRecoveryInvariant(sim)
	assert.True(t, ok, msg)
}

func TestInvariantChecker_CheckAllPassesWithoutViolations(t *testing.T) {
	sim := NewSimulator(4)
	sim.Faults().Enabled = false
	sim.CreateRule("os.Exit(*)")

	checker := NewInvariantChecker()
	ok := checker.CheckAll(sim)
	assert.True(t, ok)
	assert.Empty(t, checker.Violations())
}

func TestFaultyFs_DiskFullSurfacesAsError(t *testing.T) {
	sim := NewSimulator(7)
	sim.Faults().DiskFullProbability = 1.0
	sim.CreateRule("os.Exit(*)") // CreateRule discards LoadCatalog's error

	rules := sim.GetRules()
	assert.Empty(t, rules, "write should not have landed while disk-full was forced")
}
