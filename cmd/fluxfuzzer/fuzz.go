package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shafouz/libafl-go/internal/config"
	"github.com/shafouz/libafl-go/internal/crawler"
	"github.com/shafouz/libafl-go/internal/dictionary"
	"github.com/shafouz/libafl-go/internal/diffobserver"
	"github.com/shafouz/libafl-go/internal/diskcorpus"
	"github.com/shafouz/libafl-go/internal/httpexec"
	"github.com/shafouz/libafl-go/internal/mutator"
	"github.com/shafouz/libafl-go/internal/report"
	"github.com/shafouz/libafl-go/internal/scenario"
	"github.com/shafouz/libafl-go/internal/session"
	"github.com/shafouz/libafl-go/internal/target"
	"github.com/shafouz/libafl-go/internal/web"
	"github.com/shafouz/libafl-go/internal/worker"
	"github.com/shafouz/libafl-go/pkg/corpus"
	"github.com/shafouz/libafl-go/pkg/events"
	"github.com/shafouz/libafl-go/pkg/feedbacks"
	"github.com/shafouz/libafl-go/pkg/fuzzer"
	"github.com/shafouz/libafl-go/pkg/inputs"
	"github.com/shafouz/libafl-go/pkg/observers"
	"github.com/shafouz/libafl-go/pkg/stages"
	"github.com/shafouz/libafl-go/pkg/state"
	"github.com/spf13/cobra"
)

const responseObserverName = "http.response"

var (
	corpusDir    string
	objectiveDir string
	iterations   int
	chainMutate  bool
	fuzzThreads  int
	reportDir    string
	reportFormat string
	scenarioFile string
	crawlSeeds   bool
)

// newFuzzCmd wires internal/dictionary.Detector, which runFuzzer's scan
// command drives directly, together with an internal/httpexec.Executor
// into pkg/fuzzer.Engine, so a campaign runs the full coverage-guided
// loop — structural diffing, OWASP payload feedback, and objective
// routing for crashes/timeouts — rather than a one-shot scan.
func newFuzzCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Run the coverage-guided fuzzing engine against a target",
		RunE:  runFuzz,
	}
	cmd.Flags().StringVarP(&targetURL, "url", "u", "", "Target URL to fuzz")
	cmd.Flags().StringVar(&configFile, "config", "", "YAML campaign config; flags override its values")
	cmd.Flags().IntVarP(&fuzzThreads, "threads", "t", 1, "Number of concurrent fuzzer instances")
	cmd.Flags().IntVar(&timeout, "timeout", 10, "Request timeout in seconds")
	cmd.Flags().StringVar(&corpusDir, "corpus", "", "Directory to persist the main corpus (empty keeps it in-memory)")
	cmd.Flags().StringVar(&objectiveDir, "objective-dir", "", "Directory to persist crashing/timing-out testcases (empty keeps it in-memory)")
	cmd.Flags().IntVar(&iterations, "iterations", 8, "Mutations per StdMutationalStage pass")
	cmd.Flags().BoolVar(&chainMutate, "chain-mutate", false, "Apply every registered mutator per child instead of one at random")
	cmd.Flags().StringVar(&scenarioFile, "scenario", "", "YAML scenario whose steps drive generation stages")
	cmd.Flags().BoolVar(&crawlSeeds, "crawl", false, "Discover seed inputs by crawling the target first")
	cmd.Flags().BoolVar(&webMode, "web", false, "Mirror live stats onto the web dashboard")
	cmd.Flags().StringVar(&webPort, "port", ":9090", "Web dashboard port when --web is set")
	cmd.Flags().StringVar(&reportDir, "report-dir", "", "Directory to write a campaign report to when the run stops (empty skips reporting)")
	cmd.Flags().StringVar(&reportFormat, "report-format", "all", "Report format to write: json, html, markdown, or all")
	return cmd
}

// loadFuzzConfig resolves the campaign config: --config (if given) as the
// base, then every explicitly-set flag on top.
func loadFuzzConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadConfig(configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	f := cmd.Flags()
	if targetURL != "" {
		cfg.Target.URL = targetURL
	}
	if f.Changed("threads") {
		cfg.Engine.Threads = fuzzThreads
	}
	if f.Changed("timeout") {
		cfg.Engine.Timeout = config.Duration(time.Duration(timeout) * time.Second)
	}
	if f.Changed("iterations") {
		cfg.Engine.Iterations = iterations
	}
	if f.Changed("chain-mutate") {
		cfg.Engine.ChainMutate = chainMutate
	}
	if corpusDir != "" {
		cfg.Corpus.Dir = corpusDir
	}
	if objectiveDir != "" {
		cfg.Corpus.ObjectiveDir = objectiveDir
	}
	if scenarioFile != "" {
		cfg.Target.Scenario = scenarioFile
	}
	if f.Changed("crawl") {
		cfg.Target.Crawl = crawlSeeds
	}
	if f.Changed("web") {
		cfg.Output.Web = webMode
	}
	if f.Changed("port") {
		cfg.Output.WebPort = webPort
	}
	if reportDir != "" {
		cfg.Output.ReportDir = reportDir
	}
	if f.Changed("report-format") {
		cfg.Output.ReportFormat = reportFormat
	}
	cfg.Output.Verbose = cfg.Output.Verbose || verbose

	return cfg, cfg.Validate()
}

func runFuzz(cmd *cobra.Command, args []string) error {
	printBanner()

	cfg, err := loadFuzzConfig(cmd)
	if err != nil {
		return fmt.Errorf("fuzz: %w", err)
	}
	if cfg.Target.URL == "" {
		return fmt.Errorf("fuzz: --url (or target.url in --config) is required")
	}
	u, err := url.Parse(cfg.Target.URL)
	if err != nil {
		return fmt.Errorf("fuzz: invalid url: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: levelFor(cfg.Output.Verbose),
	}))

	tgt := &target.Target{
		Method:  cfg.Target.Method,
		URL:     cfg.Target.URL,
		Headers: cfg.Target.Headers,
	}

	// Shared, internally-synchronized collaborators: one finding tally and
	// one learned baseline across all instances. Everything an instance
	// mutates without locks (state, observers, feedbacks, engine, main
	// corpus) is built per instance below.
	detector := dictionary.NewDetector(nil)
	analyzer := diffobserver.NewAnalyzer(analyzerConfig(cfg))

	objectiveCorpus, err := newCorpus(cfg.Corpus.ObjectiveDir)
	if err != nil {
		return err
	}

	seeds := buildSeeds(logger, cfg)
	genStages, err := scenarioStages(cfg)
	if err != nil {
		return fmt.Errorf("fuzz: scenario: %w", err)
	}

	engineConfig := &fuzzer.EngineConfig{StatsInterval: cfg.Engine.StatsInterval.Std()}

	// newInstance builds one self-contained fuzzer instance: its own
	// observer tuple, executor, feedback set, state, engine, main-corpus
	// replica, and seed copies, so concurrent instances share nothing
	// unsynchronized. The objective corpus is shared deliberately — its
	// Add is mutex-guarded and crashes from every instance belong in one
	// place.
	newInstance := func(id string) (worker.InstanceSpec, error) {
		respObs := httpexec.NewResponseObserver(responseObserverName)
		clientOpts := httpexec.DefaultClientOptions()
		clientOpts.Timeout = cfg.Engine.Timeout.Std()
		clientOpts.UserAgent = cfg.Engine.UserAgent
		executor := httpexec.NewExecutor(tgt, clientOpts, respObs)
		obsTuple := observers.NewTuple(respObs)

		dictFeedback := dictionary.NewFeedback(detector, tgt.Method, tgt.URL, tgt.Headers)
		diffFeedback := diffobserver.NewFeedback(analyzer, respObs.Reference(), u.String())
		st := state.New(dictFeedback, diffFeedback, feedbacks.NewCrashFeedback(), feedbacks.NewTimeoutFeedback())

		mainCorpus, err := newCorpus(cfg.Corpus.Dir)
		if err != nil {
			return worker.InstanceSpec{}, err
		}

		eng := fuzzer.NewEngine(engineConfig, executor, obsTuple, buildStages(cfg, genStages), objectiveCorpus)

		return worker.InstanceSpec{
			ID:     id,
			Engine: eng,
			State:  st,
			Corpus: mainCorpus,
			Seeds:  cloneSeeds(seeds),
		}, nil
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down fuzz loop")
		cancel()
	}()

	logger.Info("starting fuzz loop",
		"target", cfg.Target.URL,
		"threads", cfg.Engine.Threads,
		"seeds", len(seeds),
	)

	if cfg.Engine.Threads <= 1 {
		return runSingle(ctx, logger, cfg, objectiveCorpus, newInstance)
	}
	return runCoordinated(ctx, logger, cfg, objectiveCorpus, newInstance)
}

// runSingle drives one instance on the calling goroutine through
// worker.RunInstance, the same building block the coordinated path uses.
func runSingle(ctx context.Context, logger *slog.Logger, cfg *config.Config, objective corpus.Corpus, newInstance func(string) (worker.InstanceSpec, error)) error {
	spec, err := newInstance("fuzz-0")
	if err != nil {
		return err
	}

	mgr, stop, err := buildEventManager(logger, cfg)
	if err != nil {
		return err
	}
	defer stop()

	rep := worker.RunInstance(ctx, spec, mgr, time.Now().UnixNano())
	if rep.Err != nil && !errors.Is(rep.Err, context.Canceled) {
		return rep.Err
	}

	logger.Info("fuzz loop stopped",
		"executions", rep.Executions,
		"corpus_size", rep.CorpusSize,
		"objective_size", objective.Count(),
	)

	if cfg.Output.ReportDir != "" {
		return writeReport(logger, cfg, cfg.Output.ReportDir, spec, objective)
	}
	return nil
}

// runCoordinated fans N instances out through worker.Coordinator (spec.md
// §5: independent workers, each with their own state and corpus replica,
// merged only through the event-manager boundary).
func runCoordinated(ctx context.Context, logger *slog.Logger, cfg *config.Config, objective corpus.Corpus, newInstance func(string) (worker.InstanceSpec, error)) error {
	chanMgr := events.NewChannelEventManager(logger, 256)
	stopWeb, err := mirrorToDashboard(ctx, logger, cfg, chanMgr)
	if err != nil {
		return err
	}
	defer stopWeb()

	coord, err := worker.NewCoordinator(cfg.Engine.Threads, chanMgr)
	if err != nil {
		return err
	}
	defer coord.Stop()

	specs := make([]worker.InstanceSpec, 0, cfg.Engine.Threads)
	for i := 0; i < cfg.Engine.Threads; i++ {
		spec, err := newInstance(fmt.Sprintf("fuzz-%d", i))
		if err != nil {
			return err
		}
		specs = append(specs, spec)
		if err := coord.Launch(ctx, spec); err != nil {
			return fmt.Errorf("fuzz: launch %s: %w", spec.ID, err)
		}
	}

	reports := coord.Wait()

	var firstErr error
	for _, rep := range reports {
		if rep.Err != nil && !errors.Is(rep.Err, context.Canceled) && firstErr == nil {
			firstErr = rep.Err
		}
		logger.Info("instance stopped",
			"instance", rep.InstanceID,
			"executions", rep.Executions,
			"corpus_size", rep.CorpusSize,
		)
	}
	logger.Info("fuzz loop stopped", "instances", len(reports), "objective_size", objective.Count())
	if firstErr != nil {
		return firstErr
	}

	if cfg.Output.ReportDir != "" {
		for _, spec := range specs {
			dir := filepath.Join(cfg.Output.ReportDir, spec.ID)
			if err := writeReport(logger, cfg, dir, spec, objective); err != nil {
				return fmt.Errorf("fuzz: report %s: %w", spec.ID, err)
			}
		}
	}
	return nil
}

// buildSeeds gathers initial inputs: config-listed seeds, then crawler
// discoveries when crawl is enabled, then a fallback pair of generic form
// bodies so the corpus never starts empty.
func buildSeeds(logger *slog.Logger, cfg *config.Config) []inputs.Input {
	var seeds []inputs.Input
	for _, s := range cfg.Corpus.Seeds {
		seeds = append(seeds, inputs.New([]byte(s)))
	}

	if cfg.Target.Crawl {
		crawlCfg := crawler.DefaultConfig()
		crawlCfg.Timeout = cfg.Engine.Timeout.Std()
		crawlCfg.UserAgent = cfg.Engine.UserAgent

		results, err := crawler.New(crawlCfg).Crawl(cfg.Target.URL)
		if err != nil {
			logger.Warn("crawl failed, continuing with static seeds", "err", err)
		} else {
			discovered := crawler.Seeds(results)
			for _, d := range discovered {
				seeds = append(seeds, d.Input)
			}
			logger.Info("crawler discovered seeds", "urls", len(results), "seeds", len(discovered))
		}
	}

	if len(seeds) == 0 {
		seeds = []inputs.Input{
			inputs.New([]byte("id=1")),
			inputs.New([]byte("search=test")),
		}
	}
	return seeds
}

func cloneSeeds(seeds []inputs.Input) []inputs.Input {
	out := make([]inputs.Input, len(seeds))
	for i, s := range seeds {
		out[i] = s.Clone()
	}
	return out
}

// scenarioStages parses the configured scenario file and adapts each step
// into a GenerationStage over a session.StepGenerator, all sharing one
// StateManager so variables resolved for one step feed the next.
func scenarioStages(cfg *config.Config) ([]stages.Stage, error) {
	if cfg.Target.Scenario == "" {
		return nil, nil
	}

	s, err := scenario.NewParser().ParseFile(cfg.Target.Scenario)
	if err != nil {
		return nil, err
	}

	sm := session.NewStateManager()
	for k, v := range s.Variables {
		sm.SetVariable(k, v)
	}

	out := make([]stages.Stage, 0, len(s.Steps))
	for _, step := range s.Steps {
		gen, err := session.NewStepGenerator(sm, step)
		if err != nil {
			return nil, err
		}
		out = append(out, stages.NewGenerationStage(gen, 1))
	}
	return out, nil
}

// buildStages assembles one instance's stage list: the byte-level and
// dictionary mutational stages plus any scenario generation stages.
// Mutator engines are built per call so no instance shares one.
func buildStages(cfg *config.Config, genStages []stages.Stage) []stages.Stage {
	stageMutator := mutator.NewStageMutator(mutator.NewMutatorEngine(), cfg.Engine.ChainMutate)
	dictMutator := dictionary.NewInsertMutator(nil)

	list := []stages.Stage{
		stages.NewStdMutationalStage(stageMutator, cfg.Engine.Iterations),
		stages.NewStdMutationalStage(dictMutator, cfg.Engine.Iterations),
	}
	return append(list, genStages...)
}

// analyzerConfig maps the campaign config onto diffobserver's knobs.
func analyzerConfig(cfg *config.Config) *diffobserver.AnalyzerConfig {
	ac := diffobserver.DefaultAnalyzerConfig()
	if cfg.Analyzer.BaselineSamples > 0 {
		ac.BaselineConfig.MinSamples = cfg.Analyzer.BaselineSamples
	}
	if cfg.Analyzer.TimeThreshold > 0 {
		ac.BaselineConfig.TimeThresholdMultiplier = cfg.Analyzer.TimeThreshold
	}
	ac.EnableSimHash = cfg.Analyzer.EnableSimHash
	ac.EnableTLSH = cfg.Analyzer.EnableTLSH
	return ac
}

// writeReport builds a campaign report from one finished instance's state
// and corpus plus the shared objective corpus, rendered into dir.
func writeReport(logger *slog.Logger, cfg *config.Config, dir string, spec worker.InstanceSpec, objective corpus.Corpus) error {
	title := fmt.Sprintf("fluxfuzzer campaign: %s (%s)", cfg.Target.URL, spec.ID)
	r := report.FromRun(title, cfg.Target.URL, spec.State, spec.Corpus, objective)
	mgr := report.NewManager(dir)

	var paths []string
	var err error
	if cfg.Output.ReportFormat == "all" || cfg.Output.ReportFormat == "" {
		paths, err = mgr.GenerateAll(r)
	} else {
		var path string
		path, err = mgr.Generate(r, cfg.Output.ReportFormat)
		paths = []string{path}
	}
	if err != nil {
		return err
	}
	for _, p := range paths {
		logger.Info("wrote report", "instance", spec.ID, "path", p)
	}
	return nil
}

func newCorpus(dir string) (corpus.Corpus, error) {
	if dir == "" {
		return corpus.NewInMemoryCorpus(corpus.NewWeightedScheduler()), nil
	}
	cp, err := corpus.NewOnDiskCorpus(dir, corpus.NewWeightedScheduler())
	if err != nil {
		return nil, err
	}
	cp.SetPageCache(diskcorpus.NewMemoryCache(nil))
	return cp, nil
}

// buildEventManager always logs through a SimpleEventManager; web mode
// adds internal/web's adapter alongside it via CompositeManager so a
// campaign run gets both a slog trail and a live dashboard, same pairing
// web.EventManager's own doc comment describes.
func buildEventManager(logger *slog.Logger, cfg *config.Config) (state.EventManager, func(), error) {
	simple := events.NewSimpleEventManager(logger)
	if !cfg.Output.Web {
		return simple, func() {}, nil
	}

	server := web.NewServer()
	go func() {
		if err := server.Start(cfg.Output.WebPort); err != nil {
			logger.Error("web dashboard stopped", "err", err)
		}
	}()
	composite := events.NewCompositeManager(simple, web.NewEventManager(server))
	return composite, func() { server.Stop() }, nil
}

// mirrorToDashboard starts the web dashboard (when enabled) and drains the
// coordinator's Outbound broadcast into it, so fan-out runs surface live
// stats through the same channel boundary the instances merge on.
func mirrorToDashboard(ctx context.Context, logger *slog.Logger, cfg *config.Config, chanMgr *events.ChannelEventManager) (func(), error) {
	if !cfg.Output.Web {
		return func() {}, nil
	}

	server := web.NewServer()
	go func() {
		if err := server.Start(cfg.Output.WebPort); err != nil {
			logger.Error("web dashboard stopped", "err", err)
		}
	}()

	webMgr := web.NewEventManager(server)
	go func() {
		for {
			select {
			case ev := <-chanMgr.Outbound:
				_ = webMgr.Fire(ctx, nil, ev)
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { server.Stop() }, nil
}

func levelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
