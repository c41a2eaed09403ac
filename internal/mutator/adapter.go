package mutator

import (
	"context"
	"math/rand"

	"github.com/shafouz/libafl-go/internal/target"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/stages"
)

// StageMutator adapts a *MutatorEngine's byte-slice API to stages.Mutator
// (spec.md §7: "a stage drives the mutate/evaluate loop, the mutator
// itself stays ignorant of scheduling"). The engine has its own internal
// randomness (secureRandomInt/secureRandomBytes) rather than taking the
// core's *rand.Rand directly, so the adapter ignores its rng parameter;
// the chain flag fixed at construction decides which Mutate variant runs.
type StageMutator struct {
	engine *MutatorEngine
	chain  bool
}

// NewStageMutator wraps engine for use as a pkg/stages.Mutator. chain
// selects MutateChain (between 1 and the engine's MaxMutations randomly
// selected mutations, applied in sequence) over the engine's default
// single random Mutate.
func NewStageMutator(engine *MutatorEngine, chain bool) *StageMutator {
	if engine == nil {
		engine = NewMutatorEngine()
	}
	return &StageMutator{engine: engine, chain: chain}
}

func (s *StageMutator) Mutate(ctx context.Context, rng *rand.Rand, input inputs.Input) (inputs.Input, error) {
	data := input.Bytes()

	var result *MutationResult
	if s.chain {
		result = s.engine.MutateChain(data)
	} else {
		result = s.engine.Mutate(data)
	}

	if result.Error != nil {
		return nil, result.Error
	}
	return inputs.New(result.Mutated), nil
}

// Type reports the dominant mutation family this adapter produces.
// StructureAware is the closest fit for an engine that may select among
// several registered mutators per call rather than one fixed kind.
func (s *StageMutator) Type() target.MutationType { return target.StructureAware }

var _ stages.Mutator = (*StageMutator)(nil)
