package council

import (
	"log/slog"

	"github.com/ashita-ai/council/internal/auth"
	"github.com/ashita-ai/council/internal/judge"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port            int
	databaseURL     string
	logger          *slog.Logger
	version         string
	judges          []judge.Judge
	gitRepoPath     string
	eventHooks      []EventHook
	routeRegistrars []RouteRegistrar
	middlewares     []Middleware
	apiKeyHashes    []string
	apiKeyHashErr   error
}

// WithPort overrides the TCP port from config (COUNCIL_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the provenance database connection string
// from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App. If not set, the
// default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs, telemetry, the
// health endpoint, and the MCP server handshake.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithJudge registers an additional judge in the council's pool. Multiple
// calls accumulate; the pool always includes the fixed default roster of
// keyword-based judges plus any judges registered this way.
func WithJudge(j judge.Judge) Option {
	return func(o *resolvedOptions) { o.judges = append(o.judges, j) }
}

// WithGitRepoPath overrides the repository path the git trailer bridge
// commits provenance trailers into (COUNCIL_GIT_REPO_PATH env var). An
// empty path disables the bridge.
func WithGitRepoPath(path string) Option {
	return func(o *resolvedOptions) { o.gitRepoPath = path }
}

// WithEventHook registers a hook notified when a council session reaches a
// terminal state. Multiple calls accumulate.
func WithEventHook(hook EventHook) Option {
	return func(o *resolvedOptions) { o.eventHooks = append(o.eventHooks, hook) }
}

// WithRouteRegistrar registers additional HTTP routes on the shared mux,
// applied after the council's own routes during New().
func WithRouteRegistrar(r RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, r) }
}

// WithMiddleware wraps the root HTTP handler. Applied outermost, in
// registration order (first-registered = outermost).
func WithMiddleware(m Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, m) }
}

// WithAPIKey registers an accepted submitter key for the "Authorization:
// ApiKey <key>" scheme. The key is Argon2id-hashed immediately; New returns
// an error if hashing fails rather than silently accepting a plaintext key.
// Multiple calls accumulate. With no keys registered, the HTTP and MCP
// transports require no authentication — suitable for local development or
// deployments that front the council with their own gateway auth.
func WithAPIKey(key string) Option {
	return func(o *resolvedOptions) {
		hash, err := auth.HashAPIKey(key)
		if err != nil {
			// Deferred to New(), which checks apiKeyHashErr after applying options.
			o.apiKeyHashErr = err
			return
		}
		o.apiKeyHashes = append(o.apiKeyHashes, hash)
	}
}
