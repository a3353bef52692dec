// Command briefd generates investigative briefs from the command line.
//
// Usage:
//
//	briefd generate -subject "..." -owner alice [-config briefgen.json]
//	briefd grant -owner alice -credits 5
//	briefd balance -owner alice
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"briefgen/pkg/config"
	"briefgen/pkg/credit"
	"briefgen/pkg/dimension"
	"briefgen/pkg/events"
	"briefgen/pkg/fixer"
	"briefgen/pkg/invoker"
	"briefgen/pkg/llm"
	"briefgen/pkg/llm/factory"
	"briefgen/pkg/logx"
	"briefgen/pkg/metrics"
	"briefgen/pkg/persistence"
	"briefgen/pkg/persona"
	"briefgen/pkg/pipeline"
	"briefgen/pkg/refine"
	"briefgen/pkg/scorer"
	"briefgen/pkg/tokens"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "briefd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: briefd <generate|grant|balance> [flags]")
	}

	switch args[0] {
	case "generate":
		return cmdGenerate(args[1:])
	case "grant":
		return cmdGrant(args[1:])
	case "balance":
		return cmdBalance(args[1:])
	default:
		return fmt.Errorf("unknown command %q (want generate, grant or balance)", args[0])
	}
}

func cmdGrant(args []string) error {
	fs := flag.NewFlagSet("grant", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner to credit")
	credits := fs.Int("credits", 1, "number of credits to grant")
	configPath := fs.String("config", "briefgen.json", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" {
		return fmt.Errorf("grant requires -owner")
	}
	if *credits <= 0 {
		return fmt.Errorf("grant requires a positive -credits, got %d", *credits)
	}

	cfg, err := loadConfigLenient(*configPath)
	if err != nil {
		return err
	}
	ledger, err := credit.Open(cfg.Storage.LedgerDB)
	if err != nil {
		return err
	}
	defer func() { _ = ledger.Close() }()

	if err := ledger.Grant(*owner, *credits, "manual grant"); err != nil {
		return err
	}
	balance, err := ledger.Balance(*owner)
	if err != nil {
		return err
	}
	fmt.Printf("granted %d credit(s) to %s (balance: %d)\n", *credits, *owner, balance)
	return nil
}

func cmdBalance(args []string) error {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner to query")
	configPath := fs.String("config", "briefgen.json", "config file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *owner == "" {
		return fmt.Errorf("balance requires -owner")
	}

	cfg, err := loadConfigLenient(*configPath)
	if err != nil {
		return err
	}
	ledger, err := credit.Open(cfg.Storage.LedgerDB)
	if err != nil {
		return err
	}
	defer func() { _ = ledger.Close() }()

	balance, err := ledger.Balance(*owner)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d credit(s)\n", *owner, balance)
	return nil
}

// loadConfigLenient loads config for ledger-only commands, where a missing
// API key must not block the operation.
func loadConfigLenient(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	// Ledger commands only need storage paths; fall back to defaults.
	logx.Warnf("config load failed (%v), using defaults for storage paths", err)
	return config.Default(), nil
}

func cmdGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	subject := fs.String("subject", "", "subject to investigate")
	owner := fs.String("owner", "", "owner whose credit is consumed")
	configPath := fs.String("config", "briefgen.json", "config file path")
	quiet := fs.Bool("quiet", false, "suppress progress events")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("generate requires -subject")
	}
	if *owner == "" {
		return fmt.Errorf("generate requires -owner")
	}
	if *debug {
		logx.SetDebug(true, nil)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := ensureAPIKey(cfg); err != nil {
		return err
	}

	p, ledger, store, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ledger.Close() }()
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	bus := events.NewBus()
	done := make(chan struct{})
	if *quiet {
		close(done)
	} else {
		// Subscribe before the run starts so the first events are not missed.
		ch, cancelSub := bus.Subscribe()
		go func() {
			defer close(done)
			defer cancelSub()
			streamEvents(ch)
		}()
	}

	result, err := p.Run(ctx, *subject, *owner, bus)
	<-done
	if err != nil {
		if errors.Is(err, credit.ErrInsufficientCredit) {
			return fmt.Errorf("insufficient credit for %s; run briefd grant first", *owner)
		}
		return err
	}

	fmt.Println(result.Draft)
	fmt.Fprintf(os.Stderr, "\ninvestigation %s: kind=%s score=%.2f refunded=%v\n",
		result.InvestigationID, result.Kind, result.Score.Overall, result.Refunded)
	if result.Warning != "" {
		fmt.Fprintf(os.Stderr, "warning: %s\n", result.Warning)
	}
	for _, level := range []string{"elementary", "high-school", "expert"} {
		if s, ok := result.Summaries[level]; ok {
			fmt.Fprintf(os.Stderr, "\n--- %s summary ---\n%s\n", level, s)
		}
	}
	return nil
}

// ensureAPIKey prompts for a key on the terminal when the config and
// environment provide none. Ollama needs no key.
func ensureAPIKey(cfg *config.Config) error {
	if cfg.Provider.Name == config.ProviderOllama || cfg.Provider.APIKey != "" {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("no API key configured for provider %s", cfg.Provider.Name)
	}
	fmt.Fprintf(os.Stderr, "API key for %s: ", cfg.Provider.Name)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read API key: %w", err)
	}
	key := strings.TrimSpace(string(raw))
	if key == "" {
		return fmt.Errorf("no API key configured for provider %s", cfg.Provider.Name)
	}
	cfg.Provider.APIKey = key
	return nil
}

// buildPipeline wires the provider client, retry policy, consensus scorer,
// fixers and storage into one Pipeline.
func buildPipeline(cfg *config.Config) (*pipeline.Pipeline, *credit.SQLiteLedger, *persistence.Store, error) {
	client, err := factory.NewClient(&cfg.Provider)
	if err != nil {
		return nil, nil, nil, err
	}

	inv := invoker.New(invoker.NewPolicy(invoker.Config{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialDelay:   cfg.InitialRetryDelay(),
		MaxDelay:       invoker.DefaultConfig.MaxDelay,
		BackoffFactor:  cfg.Retry.BackoffFactor,
		JitterFraction: cfg.Retry.JitterFraction,
	}, nil))

	scorerClients := make(map[persona.Role]llm.Client)
	for _, role := range append(persona.Primaries(), persona.RoleArbiter) {
		scorerClients[role] = inv.WrapClient("persona:"+string(role), client)
	}
	sc, err := scorer.New(scorerClients, scorer.Config{
		DisagreementThreshold: cfg.Scoring.DisagreementThreshold,
		ArbiterWeight:         cfg.Scoring.ArbiterWeight,
		Parallel:              cfg.Scoring.Parallel,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	counter, err := tokens.NewCounter()
	if err != nil {
		return nil, nil, nil, err
	}
	fixers := make(map[dimension.Dimension]refine.Proposer, dimension.Count)
	for _, d := range dimension.All() {
		f, ferr := fixer.New(d, inv.WrapClient("fixer:"+string(d), client), counter)
		if ferr != nil {
			return nil, nil, nil, ferr
		}
		fixers[d] = f
	}

	ledger, err := credit.Open(cfg.Storage.LedgerDB)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := persistence.Open(cfg.Storage.InvestigationDB)
	if err != nil {
		_ = ledger.Close()
		return nil, nil, nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		StageTimeout:     cfg.StageTimeout(),
		QualityThreshold: config.QualityThreshold,
		Refinement: refine.Config{
			QualityThreshold:  config.QualityThreshold,
			DimensionFloor:    cfg.Refinement.DimensionFloor,
			MaxAttempts:       cfg.Refinement.MaxAttempts,
			MaxFixersPerRound: cfg.Refinement.MaxFixersPerRound,
		},
	}, client, inv, sc, fixers, store, ledger)
	if err != nil {
		_ = ledger.Close()
		_ = store.Close()
		return nil, nil, nil, err
	}
	return p, ledger, store, nil
}

// serveMetrics exposes the prometheus scrape endpoint for the run.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logx.Warnf("metrics endpoint failed: %v", err)
	}
}

// streamEvents prints progress events to stderr until the channel closes.
func streamEvents(ch <-chan events.Event) {
	for ev := range ch {
		switch ev.Type {
		case events.TypeStageChanged:
			fmt.Fprintf(os.Stderr, "stage: %s\n", ev.Stage)
		case events.TypeAgentStarted:
			fmt.Fprintf(os.Stderr, "  agent %s started\n", ev.Agent)
		case events.TypeAgentCompleted:
			fmt.Fprintf(os.Stderr, "  agent %s completed\n", ev.Agent)
		case events.TypeStarted:
			fmt.Fprintf(os.Stderr, "run started: %s\n", ev.Message)
		case events.TypeComplete:
			fmt.Fprintf(os.Stderr, "run complete\n")
		case events.TypeError:
			fmt.Fprintf(os.Stderr, "run failed: %s\n", ev.Message)
		}
	}
}
