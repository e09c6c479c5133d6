package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/bbye98/minim/internal/cache"
	"github.com/bbye98/minim/internal/providers"
	"github.com/bbye98/minim/internal/shared"
	"github.com/bbye98/minim/internal/tokens"
	"github.com/charmbracelet/log"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer

	db      *sql.DB
	store   *tokens.Store
	cache   *cache.Cache
	clients map[string]*providers.Client
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Store      *tokens.Store
	Cache      *cache.Cache
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		store:      opts.Store,
		cache:      opts.Cache,
		clients:    map[string]*providers.Client{},
	}
}

// openStore lazily opens the token database. A storage failure degrades to
// in-memory credentials rather than blocking the command.
func (r *Runner) openStore() *tokens.Store {
	if r.store != nil {
		return r.store
	}

	db, err := shared.NewDatabase(r.config.Store.Path)
	if err != nil {
		r.logger.Warn("token storage unavailable", "error", err)
		return nil
	}
	shared.ConfigureDatabase(db, r.config.Store.MaxOpenConns, r.config.Store.MaxIdleConns)

	store, err := tokens.NewStore(db)
	if err != nil {
		r.logger.Warn("token storage unavailable", "error", err)
		db.Close()
		return nil
	}

	r.db = db
	r.store = store
	return store
}

// responseCache lazily creates the shared response cache.
func (r *Runner) responseCache() *cache.Cache {
	if r.cache == nil {
		r.cache = cache.New(r.config.Cache.Capacity)
	}
	return r.cache
}

// client returns the provider client for the given name, constructing and
// memoizing it on first use.
func (r *Runner) client(name string) (*providers.Client, error) {
	if client, ok := r.clients[name]; ok {
		return client, nil
	}

	profile, err := providers.ByName(name)
	if err != nil {
		return nil, err
	}

	client, err := providers.NewClient(profile, r.config.Provider(name), providers.Options{
		Store:      r.openStore(),
		Cache:      r.responseCache(),
		HTTPClient: r.httpClient,
		Logger:     r.logger,
	})
	if err != nil {
		return nil, err
	}

	r.clients[name] = client
	return client, nil
}

// Close releases the runner's database handle.
func (r *Runner) Close() {
	if r.db != nil {
		r.db.Close()
	}
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
