package simulation

import (
	"fmt"
	"strings"

	"github.com/zerouihq/constitution-core/pkg/models"
)

// Invariant is a property that must always hold true of a Simulator.
type Invariant func(*Simulator) (bool, string)

// InvariantChecker tracks and validates system invariants
type InvariantChecker struct {
	invariants []NamedInvariant
	violations []InvariantViolation
}

// NamedInvariant pairs an invariant with its name
type NamedInvariant struct {
	Name      string
	Invariant Invariant
}

// InvariantViolation records when an invariant fails
type InvariantViolation struct {
	Name          string
	Message       string
	SimulatedTime string
	Seed          int64
}

// NewInvariantChecker creates a checker with the default invariants
// registered (spec.md §8 P3/P5/P7).
func NewInvariantChecker() *InvariantChecker {
	ic := &InvariantChecker{
		invariants: make([]NamedInvariant, 0),
		violations: make([]InvariantViolation, 0),
	}

	ic.Register("rule_persistence", RulePersistenceInvariant)
	ic.Register("no_duplicate_rules", NoDuplicateRulesInvariant)
	ic.Register("atomic_writes", AtomicWriteInvariant)
	ic.Register("idempotent_recovery", IdempotentRecoveryInvariant)
	ic.Register("no_data_loss_under_faults", NoDataLossUnderFaultsInvariant)
	ic.Register("graceful_degradation", GracefulDegradationInvariant)

	return ic
}

// Register adds a named invariant to check
func (ic *InvariantChecker) Register(name string, inv Invariant) {
	ic.invariants = append(ic.invariants, NamedInvariant{Name: name, Invariant: inv})
}

// CheckAll runs all registered invariants
func (ic *InvariantChecker) CheckAll(sim *Simulator) bool {
	allPass := true

	for _, named := range ic.invariants {
		pass, message := named.Invariant(sim)
		if !pass {
			allPass = false
			ic.violations = append(ic.violations, InvariantViolation{
				Name:          named.Name,
				Message:       message,
				SimulatedTime: sim.Now().String(),
				Seed:          sim.Seed(),
			})
		}
	}

	return allPass
}

// Violations returns all recorded violations
func (ic *InvariantChecker) Violations() []InvariantViolation {
	return ic.violations
}

// -------------------------------------------------------------------
// Core invariants
// -------------------------------------------------------------------

// RulePersistenceInvariant: rules survive a crash and restart.
func RulePersistenceInvariant(sim *Simulator) (bool, string) {
	rulesBefore := sim.GetRules()
	countBefore := len(rulesBefore)

	if err := sim.CrashAndRestart(); err != nil {
		return false, fmt.Sprintf("crash recovery failed: %v", err)
	}

	rulesAfter := sim.GetRules()
	countAfter := len(rulesAfter)

	if countAfter != countBefore {
		return false, fmt.Sprintf("rule count changed: %d before -> %d after crash", countBefore, countAfter)
	}

	beforeByID := make(map[string]string, len(rulesBefore))
	for _, r := range rulesBefore {
		beforeByID[r.RuleID] = requirementKeyOf(r)
	}
	for _, r := range rulesAfter {
		original, exists := beforeByID[r.RuleID]
		if !exists {
			return false, fmt.Sprintf("rule %s appeared after crash (not present before)", r.RuleID)
		}
		if requirementKeyOf(r) != original {
			return false, fmt.Sprintf("rule %s requirements changed after crash", r.RuleID)
		}
	}

	return true, ""
}

// NoDuplicateRulesInvariant: no duplicate rule IDs are ever stored.
func NoDuplicateRulesInvariant(sim *Simulator) (bool, string) {
	rules := sim.GetRules()
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.RuleID] {
			return false, fmt.Sprintf("duplicate rule ID found: %s", r.RuleID)
		}
		seen[r.RuleID] = true
	}
	return true, ""
}

// AtomicWriteInvariant: every rule readable from the backend is fully
// formed — a torn or corrupted write is either rejected (left as the
// prior version) or recovered from a backup, never served half-written.
func AtomicWriteInvariant(sim *Simulator) (bool, string) {
	rules := sim.GetRules()
	for _, r := range rules {
		if r.RuleID == "" {
			return false, "rule with empty ID found (corrupted)"
		}
		if len(r.Requirements) == 0 {
			return false, fmt.Sprintf("rule %s has no requirements (corrupted)", r.RuleID)
		}
	}
	return true, ""
}

// IdempotentRecoveryInvariant: recovery can be repeated safely and
// converges to the same state each time.
func IdempotentRecoveryInvariant(sim *Simulator) (bool, string) {
	rules1 := sim.GetRules()
	count1 := len(rules1)

	map1 := make(map[string]string, len(rules1))
	for _, r := range rules1 {
		map1[r.RuleID] = requirementKeyOf(r)
	}

	if err := sim.CrashAndRestart(); err != nil {
		return false, fmt.Sprintf("second restart failed: %v", err)
	}

	rules2 := sim.GetRules()
	count2 := len(rules2)
	if count1 != count2 {
		return false, fmt.Sprintf("rule count changed on second restart: %d -> %d", count1, count2)
	}

	for _, r2 := range rules2 {
		k1, exists := map1[r2.RuleID]
		if !exists {
			return false, fmt.Sprintf("rule %s appeared after second restart", r2.RuleID)
		}
		if requirementKeyOf(r2) != k1 {
			return false, fmt.Sprintf("rule %s changed between restarts", r2.RuleID)
		}
	}

	return true, ""
}

// -------------------------------------------------------------------
// Fault-specific invariants
// -------------------------------------------------------------------

// NoDataLossUnderFaultsInvariant: after ten generated rule writes (under
// whatever faults the injector is configured for), the rule count is not
// lower than it was before them.
func NoDataLossUnderFaultsInvariant(sim *Simulator) (bool, string) {
	ruleCount := len(sim.GetRules())

	for i := 0; i < 10; i++ {
		sim.GenerateRule()
	}

	finalCount := len(sim.GetRules())
	if finalCount < ruleCount {
		return false, fmt.Sprintf("rules lost: started with %d, ended with %d", ruleCount, finalCount)
	}
	return true, ""
}

// GracefulDegradationInvariant: the backend keeps accepting new rules
// after a burst of injected faults rather than wedging.
func GracefulDegradationInvariant(sim *Simulator) (bool, string) {
	rules := sim.GetRules()
	if len(rules) == 0 {
		return false, "system completely stopped (no rules loaded)"
	}

	rule := sim.CreateRule("os.Exit(*)")
	for _, r := range sim.GetRules() {
		if r.RuleID == rule.RuleID {
			return true, ""
		}
	}
	return false, "cannot create rules after stress"
}

// -------------------------------------------------------------------
// Helper functions
// -------------------------------------------------------------------

func requirementKeyOf(r models.Rule) string {
	return strings.Join(r.Requirements, "|")
}

// CheckInvariant runs a single invariant and panics if it fails.
func CheckInvariant(sim *Simulator, name string, inv Invariant) {
	pass, message := inv(sim)
	if !pass {
		panic(fmt.Sprintf("invariant %q violated: %s (seed: %d)", name, message, sim.Seed()))
	}
}

// MustHold asserts an invariant holds, panicking if not.
func MustHold(sim *Simulator, inv Invariant, context string) {
	pass, message := inv(sim)
	if !pass {
		panic(fmt.Sprintf("invariant violated in %s: %s (seed: %d)", context, message, sim.Seed()))
	}
}
