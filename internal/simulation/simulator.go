package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/afero"

	"github.com/zerouihq/constitution-core/internal/store"
	"github.com/zerouihq/constitution-core/internal/store/document"
	"github.com/zerouihq/constitution-core/pkg/models"
)

// Simulator drives a Document Backend through a deterministic, seeded
// sequence of writes and crash/restart cycles so the invariants in
// this package can be checked against it (spec.md §8 P3/P5/P7).
type Simulator struct {
	fs       afero.Fs
	path     string
	backend  *document.Backend
	clock    *VirtualClock
	rnd      *DeterministicRand
	injector *FaultInjector
	seed     int64
	ruleN    int
}

// NewSimulator builds a Simulator whose randomness and fault injection
// are both derived from seed, so a failing run is reproducible by
// reusing the same seed (spec.md §8 "reproducible simulation runs").
func NewSimulator(seed int64) *Simulator {
	rnd := NewDeterministicRand(seed)
	injector := NewFaultInjector(rnd)
	fs := NewFaultyFs(afero.NewMemMapFs(), injector)
	path := "/sim/rules.json"

	return &Simulator{
		fs:       fs,
		path:     path,
		backend:  document.New(fs, path, 3),
		clock:    NewVirtualClock(time.Unix(0, 0)),
		rnd:      rnd,
		injector: injector,
		seed:     seed,
	}
}

// Seed returns the seed the simulation was constructed with.
func (s *Simulator) Seed() int64 { return s.seed }

// Now returns the simulator's virtual clock time.
func (s *Simulator) Now() time.Time { return s.clock.Now() }

// Advance moves the virtual clock forward by d.
func (s *Simulator) Advance(d time.Duration) { s.clock.Advance(d) }

// Faults returns the fault injector driving this simulation.
func (s *Simulator) Faults() *FaultInjector { return s.injector }

// GetRules returns every rule currently stored in the backend.
func (s *Simulator) GetRules() []models.Rule {
	recs, err := s.backend.ListRules(context.Background(), store.Filter{})
	if err != nil {
		return nil
	}
	out := make([]models.Rule, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Rule)
	}
	return out
}

// CreateRule loads a single rule with the given forbidden-call
// requirement into the backend and returns it.
func (s *Simulator) CreateRule(requirement string) models.Rule {
	s.ruleN++
	r := models.Rule{
		RuleID:        fmt.Sprintf("SIM-%04d", s.ruleN),
		Title:         "simulated rule",
		Category:      "simulation",
		Severity:      models.SeverityMinor,
		Version:       "1.0.0",
		ValidatorHint: "forbidden_call",
		Requirements:  []string{requirement},
	}
	_ = s.backend.LoadCatalog(context.Background(), []models.Rule{r})
	return r
}

var generatedShapes = []string{"os.Exit(*)", "fmt.Println(*)", "panic(*)", "log.Fatal(*)"}

// GenerateRule creates a rule with a randomly chosen call-shape
// requirement, for invariants that just need catalog growth.
func (s *Simulator) GenerateRule() models.Rule {
	return s.CreateRule(s.rnd.Choice(generatedShapes))
}

// CrashAndRestart discards the in-memory Document Backend and opens a
// fresh one against whatever bytes are currently on fs at s.path,
// exactly the way a process restart would observe whatever the last
// write left behind (spec.md §8 P3 "Atomic Write Crash Safety").
func (s *Simulator) CrashAndRestart() error {
	s.backend = document.New(s.fs, s.path, 3)
	health := s.backend.Health(context.Background())
	if health.State == store.Unhealthy {
		return fmt.Errorf("backend unhealthy after restart: %s", health.Reason)
	}
	return nil
}
