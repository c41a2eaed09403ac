package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/shafouz/libafl-go/pkg/state"
)

// RunInstance seeds and then fuzz-loops a single instance until ctx is
// cancelled, returning a summary report. It is the single-worker building
// block both Coordinator and a standalone embedder call.
func RunInstance(ctx context.Context, spec InstanceSpec, mgr state.EventManager, seed int64) InstanceReport {
	rng := rand.New(rand.NewSource(seed))
	report := InstanceReport{InstanceID: spec.ID}

	if err := spec.Engine.LoadInitialInputs(ctx, rng, spec.State, spec.Corpus, mgr, spec.Seeds); err != nil {
		report.Err = err
		report.Executions = spec.State.Executions()
		report.CorpusSize = spec.Corpus.Count()
		report.StoppedAt = time.Now()
		return report
	}

	err := spec.Engine.FuzzLoop(ctx, rng, spec.State, spec.Corpus, mgr)
	report.Executions = spec.State.Executions()
	report.CorpusSize = spec.Corpus.Count()
	report.Err = err
	report.StoppedAt = time.Now()
	return report
}
