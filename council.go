// Package council is the public API for embedding the council orchestrator.
//
// Host applications import this package to construct and extend the
// orchestrator without forking it:
//
//	app, err := council.New(
//	    council.WithVersion(version),
//	    council.WithLogger(logger),
//	    council.WithJudge(myLLMBackedJudge),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: council (root) imports
// internal/*, but internal/* never imports council (root). Public types
// (Decision, ReviewRequest, etc.) are standalone structs with no internal
// imports; conversion helpers live here because this is the only file that
// sees both sides of the boundary.
package council

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel"

	"github.com/ashita-ai/council/internal/aggregator"
	"github.com/ashita-ai/council/internal/breaker"
	"github.com/ashita-ai/council/internal/config"
	"github.com/ashita-ai/council/internal/decision"
	"github.com/ashita-ai/council/internal/degradation"
	"github.com/ashita-ai/council/internal/gitbridge"
	"github.com/ashita-ai/council/internal/health"
	"github.com/ashita-ai/council/internal/judge"
	"github.com/ashita-ai/council/internal/mcp"
	"github.com/ashita-ai/council/internal/model"
	"github.com/ashita-ai/council/internal/provenance"
	"github.com/ashita-ai/council/internal/selector"
	"github.com/ashita-ai/council/internal/server"
	"github.com/ashita-ai/council/internal/session"
	"github.com/ashita-ai/council/internal/signing"
	"github.com/ashita-ai/council/internal/telemetry"
)

// defaultJudgeTypes is the judge roster every deployment starts with, one
// KeywordJudge per specialization; judges registered via WithJudge are
// added to it (replacing a default judge only when they share its ID).
var defaultJudgeTypes = []model.JudgeType{
	model.JudgeTypeQuality,
	model.JudgeTypeSecurity,
	model.JudgeTypeArchitecture,
	model.JudgeTypeEthics,
	model.JudgeTypePerformance,
	model.JudgeTypeTesting,
	model.JudgeTypeCompliance,
	model.JudgeTypeDomainExpert,
}

// App is the council orchestrator's lifecycle. Construct with New(), run
// with Run(). App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	store        provenance.Backend
	orchestrator *session.Orchestrator
	reporter     *health.Reporter
	srv          *server.Server
	otelShutdown func(context.Context) error
	eventHooks   []EventHook
	logger       *slog.Logger
	version      string
}

// New initialises the council orchestrator: it loads configuration, wires
// the judge pool, the circuit breakers, the degradation table, the signer,
// the provenance backend, and (optionally) the git trailer bridge, and
// returns a ready-to-run App. It does NOT start any goroutines or accept
// HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.apiKeyHashErr != nil {
		return nil, fmt.Errorf("hash api key: %w", o.apiKeyHashErr)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.gitRepoPath != "" {
		cfg.GitRepoPath = o.gitRepoPath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("council starting", "version", version, "port", cfg.Port, "backend", cfg.Backend)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	signer, err := newSigner(cfg)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("signing: %w", err)
	}

	store, err := newProvenanceBackend(context.Background(), cfg)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("provenance backend: %w", err)
	}

	judges := defaultJudgePool()
	for _, j := range o.judges {
		judges[j.ID()] = j
	}

	var breakers *breaker.Registry
	if cfg.EnableCircuitBreakers {
		breakers = breaker.NewRegistry(breaker.DefaultConfig(time.Duration(cfg.JudgeTimeoutSeconds) * time.Second))
	}

	var degrades *degradation.Table
	if cfg.EnableGracefulDegradation {
		degrades = degradation.DefaultTable()
	}

	var gitBridge *gitbridge.Bridge
	if cfg.GitRepoPath != "" {
		gitBridge, err = gitbridge.Open(cfg.GitRepoPath, cfg.GitAuthorName, cfg.GitAuthorEmail)
		if err != nil {
			logger.Warn("git trailer bridge disabled: failed to open repository", "error", err, "path", cfg.GitRepoPath)
			gitBridge = nil
		}
	}

	sessionCfg := session.Config{
		SessionTimeout:            time.Duration(cfg.SessionTimeoutSeconds) * time.Second,
		JudgeTimeout:              time.Duration(cfg.JudgeTimeoutSeconds) * time.Second,
		MinJudgesRequired:         cfg.MinJudgesRequired,
		MaxJudgesPerSession:       cfg.MaxJudgesPerSession,
		SelectionStrategy:         selectionStrategyFromString(cfg.JudgeSelectionStrategy),
		EnableParallelReviews:     cfg.EnableParallelReviews,
		EnableCircuitBreakers:     cfg.EnableCircuitBreakers,
		EnableGracefulDegradation: cfg.EnableGracefulDegradation,
		EnableErrorRecovery:       cfg.EnableErrorRecovery,
		AutoCommitToGit:           cfg.GitAutoCommit,
		Aggregation: aggregator.Config{
			WeightBySpecialization: cfg.WeightBySpecialization,
			Dissent:                dissentHandlingFromString(cfg.DissentHandling, cfg.DissentThreshold),
			RiskStrategy:           riskAggregationFromString(cfg.RiskAggregation),
		},
		Engine: consensusStrategyFromString(cfg.ConsensusStrategy),
	}

	orchestrator := session.New(sessionCfg, judges, breakers, degrades, signer, store, gitBridge)

	meter := otel.GetMeterProvider().Meter("council")
	degradedComponents := make([]string, 0, len(defaultJudgeTypes))
	for _, jt := range defaultJudgeTypes {
		degradedComponents = append(degradedComponents, string(jt)+"_judge")
	}
	reporter, err := health.NewReporter(meter, judges, breakers, degrades, degradedComponents)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("health reporter: %w", err)
	}

	var trailerVerifier provenance.TrailerVerifier
	if gitBridge != nil {
		trailerVerifier = gitBridge
	}

	middlewares := make([]func(http.Handler) http.Handler, len(o.middlewares))
	for i, mw := range o.middlewares {
		middlewares[i] = func(h http.Handler) http.Handler { return mw(h) }
	}
	registrars := make([]func(*http.ServeMux), len(o.routeRegistrars))
	for i, rr := range o.routeRegistrars {
		registrars[i] = func(mux *http.ServeMux) { rr(mux) }
	}

	hooks := make([]func(context.Context, session.Session), len(o.eventHooks))
	for i, hook := range o.eventHooks {
		hooks[i] = func(ctx context.Context, sess session.Session) {
			if err := hook.OnDecisionRecorded(ctx, toReviewResult(sess)); err != nil {
				logger.Warn("event hook failed", "error", err, "session_id", sess.ID)
			}
		}
	}

	mcpSrv := mcp.New(mcp.Deps{
		Orchestrator: orchestrator,
		Store:        store,
		Signer:       signer,
		Trailers:     trailerVerifier,
		Logger:       logger,
		Version:      version,
	})

	srv := server.New(server.ServerConfig{
		Orchestrator:         orchestrator,
		Store:                store,
		Signer:               signer,
		Logger:               logger,
		Trailers:             trailerVerifier,
		APIKeyHashes:         o.apiKeyHashes,
		Hooks:                hooks,
		MCPServer:            mcpSrv.MCPServer(),
		Port:                 cfg.Port,
		ReadTimeout:          cfg.ReadTimeout,
		WriteTimeout:         cfg.WriteTimeout,
		Version:              version,
		MaxRequestBodyBytes:  1 << 20,
		CORSAllowedOrigins:   []string{"*"},
		RouteRegistrars:      registrars,
		OutermostMiddlewares: middlewares,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		orchestrator: orchestrator,
		reporter:     reporter,
		srv:          srv,
		otelShutdown: otelShutdown,
		eventHooks:   o.eventHooks,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the health reporting loop and the HTTP server, then blocks
// until ctx is cancelled or a fatal server error occurs. On return,
// Shutdown is called automatically — callers should not call Shutdown
// separately.
func (a *App) Run(ctx context.Context) error {
	go a.healthReportLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		_ = a.Shutdown(context.Background())
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully drains in-flight HTTP requests and closes the
// telemetry provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("council shutting down")
	if err := a.srv.Shutdown(ctx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	_ = a.otelShutdown(context.Background())
	a.logger.Info("council stopped")
	return nil
}

func (a *App) healthReportLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.reporter.Report(ctx)
		}
	}
}

// toReviewResult adapts an internal session.Session to the public
// ReviewResult shape, for delivery to EventHooks and any external caller
// embedding the council package directly.
func toReviewResult(sess session.Session) ReviewResult {
	return ReviewResult{
		SessionID: sess.ID,
		Status:    string(sess.Status),
		Decision: &Decision{
			SessionID:         sess.ID,
			Kind:              string(sess.FinalDecision.Kind),
			ConsensusStrength: float32(sess.FinalDecision.Confidence),
			CreatedAt:         time.Now().UTC(),
		},
		VerdictID: sess.ProvenanceID,
	}
}

func defaultJudgePool() map[string]judge.Judge {
	pool := make(map[string]judge.Judge, len(defaultJudgeTypes))
	for _, jt := range defaultJudgeTypes {
		id := string(jt) + "-1"
		pool[id] = judge.NewKeywordJudge(id, jt, judge.HeuristicReviewer(jt))
	}
	return pool
}

func newSigner(cfg config.Config) (*signing.Signer, error) {
	switch cfg.SigningAlgorithm {
	case "ES256":
		return signing.NewES256Signer(cfg.SigningKeyID, cfg.SigningPrivateKey, cfg.SigningPublicKey)
	case "RS256":
		return signing.NewRS256Signer(cfg.SigningKeyID, cfg.SigningPrivateKey, cfg.SigningPublicKey)
	default:
		return signing.NewEdDSASigner(cfg.SigningKeyID, cfg.SigningPrivateKey, cfg.SigningPublicKey)
	}
}

func newProvenanceBackend(ctx context.Context, cfg config.Config) (provenance.Backend, error) {
	if cfg.Backend == "sqlite" {
		return provenance.NewSQLiteBackend(cfg.SQLitePath)
	}
	return provenance.NewPostgresBackend(ctx, cfg.DatabaseURL)
}

func selectionStrategyFromString(s string) selector.Strategy {
	switch s {
	case "AllAvailable":
		return selector.StrategyAllAvailable
	case "RoundRobin":
		return selector.StrategyRoundRobin
	case "Random":
		return selector.StrategyRandom
	case "PerformanceWeighted":
		return selector.StrategyPerformanceWeighted
	default:
		return selector.StrategySpecializationBased
	}
}

func consensusStrategyFromString(s string) decision.ConsensusStrategy {
	switch s {
	case "WeightedExpertise":
		return decision.StrategyWeightedExpertise
	case "RiskBased":
		return decision.StrategyRiskBased
	case "LearningBased":
		return decision.StrategyLearningBased
	case "Conservative":
		return decision.StrategyConservative
	default:
		return decision.StrategyMajority
	}
}

func dissentHandlingFromString(s string, threshold float64) aggregator.DissentHandling {
	switch s {
	case "Strict":
		return aggregator.DissentHandling{Kind: aggregator.DissentStrict}
	case "Weighted":
		return aggregator.DissentHandling{Kind: aggregator.DissentWeighted, Threshold: threshold}
	default:
		return aggregator.DissentHandling{Kind: aggregator.DissentMajority, Threshold: threshold}
	}
}

func riskAggregationFromString(s string) aggregator.RiskAggregationStrategy {
	switch s {
	case "WeightedAverage":
		return aggregator.RiskWeightedAverage
	case "RiskFactorFrequency":
		return aggregator.RiskFactorFrequency
	default:
		return aggregator.RiskMostConservative
	}
}
