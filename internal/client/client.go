package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/TheMichaelB/shopsync/internal/config"
	"github.com/TheMichaelB/shopsync/internal/connectivity"
	"github.com/TheMichaelB/shopsync/internal/creds"
	"github.com/TheMichaelB/shopsync/internal/events"
	"github.com/TheMichaelB/shopsync/internal/queue"
	"github.com/TheMichaelB/shopsync/internal/services/catalog"
	"github.com/TheMichaelB/shopsync/internal/services/shoppinglist"
	syncsvc "github.com/TheMichaelB/shopsync/internal/services/sync"
	"github.com/TheMichaelB/shopsync/internal/state"
	"github.com/TheMichaelB/shopsync/internal/transport"
)

// Client provides the high-level API for shopsync operations.
type Client struct {
	Lists   *shoppinglist.Controller
	Sync    *syncsvc.Engine
	Queue   *queue.Queue
	Store   *state.SnapshotStore
	Monitor *connectivity.Monitor
	Catalog *catalog.Service

	config    *config.Config
	logger    *events.Logger
	transport *transport.HTTPClient
	backend   state.Backend
	creds     *creds.Credentials
}

// Options adjust client startup.
type Options struct {
	// Offline starts the client without assuming the service is reachable.
	Offline bool
}

// New creates a client talking to the configured inventory service.
func New(cfg *config.Config, opts Options, logger *events.Logger) (*Client, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	httpClient := transport.NewHTTPClient(&cfg.API, logger)
	if cfg.Dev.InsecureSkipVerify {
		httpClient.AllowInsecureTLS()
	}

	stored, err := loadCredentials(cfg, logger)
	if err != nil {
		return nil, err
	}
	if cfg.API.Token == "" && stored != nil {
		httpClient.SetToken(stored.Token)
	}

	backend, err := state.OpenBackend(cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	c := build(cfg, opts, httpClient, backend, logger)
	c.transport = httpClient
	c.creds = stored
	return c, nil
}

// loadCredentials returns the token saved by login, or nil when none is
// stored for the configured service.
func loadCredentials(cfg *config.Config, logger *events.Logger) (*creds.Credentials, error) {
	stored, err := creds.Load(creds.Path(cfg.Storage.DataDir))
	switch {
	case errors.Is(err, creds.ErrNoCredentials):
		return nil, nil
	case err != nil:
		return nil, err
	}

	if !stored.Matches(cfg.API.BaseURL) {
		logger.WithField("saved_for", stored.BaseURL).Warn("Stored credentials belong to another service, ignoring them")
		return nil, nil
	}
	return stored, nil
}

// build wires the components around an inventory implementation.
func build(cfg *config.Config, opts Options, inventory transport.Inventory, backend state.Backend, logger *events.Logger) *Client {
	monitor := connectivity.NewMonitor(!opts.Offline, logger)
	store := state.NewSnapshotStore(backend, monitor, logger)
	q := queue.New(store, logger)

	engine := syncsvc.NewEngine(inventory, q, store, monitor, &syncsvc.SyncConfig{
		RetryBudget:     cfg.Sync.RetryBudget,
		RefreshAttempts: cfg.Sync.RefreshAttempts,
		RefreshBackoff:  cfg.Sync.RefreshBackoff,
	}, logger)

	catalogService := catalog.NewService(inventory, logger)

	lists := shoppinglist.NewController(
		inventory,
		catalogService,
		q,
		store,
		monitor,
		engine,
		&shoppinglist.Config{SnapshotThreshold: cfg.Sync.SnapshotThreshold},
		logger,
	)

	// Reconnecting replays everything queued while offline
	monitor.OnOnline(func() {
		engine.Trigger(context.Background())
	})

	return &Client{
		Lists:   lists,
		Sync:    engine,
		Queue:   q,
		Store:   store,
		Monitor: monitor,
		Catalog: catalogService,
		config:  cfg,
		logger:  logger,
		backend: backend,
	}
}

// Watch keeps the connectivity signal and the background drain running
// until ctx is cancelled.
func (c *Client) Watch(ctx context.Context) error {
	if c.transport == nil {
		return errors.New("watch needs a network transport")
	}

	watcher := transport.NewPresenceWatcher(
		c.transport.BaseURL(),
		c.config.API.PresencePath,
		c.transport.GetToken(),
		c.Monitor.SetOnline,
		c.logger,
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Sync.Run(ctx, c.config.Sync.DrainInterval)
	}()

	err := watcher.Run(ctx)
	<-done

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// DefaultInstance returns the instance saved at login, if any.
func (c *Client) DefaultInstance() string {
	if c.creds == nil {
		return ""
	}
	return c.creds.Instance
}

// Login stores token for later runs and starts using it.
func (c *Client) Login(token, instance string) error {
	stored := &creds.Credentials{
		Token:    token,
		Instance: instance,
		BaseURL:  c.config.API.BaseURL,
	}
	if err := creds.Save(creds.Path(c.config.Storage.DataDir), stored); err != nil {
		return err
	}

	if c.transport != nil {
		c.transport.SetToken(stored.Token)
	}
	c.creds = stored
	c.logger.WithField("instance", instance).Info("Saved credentials")
	return nil
}

// Logout removes stored credentials. Cached lists and queued edits stay.
func (c *Client) Logout() error {
	if err := creds.Remove(creds.Path(c.config.Storage.DataDir)); err != nil {
		return err
	}

	if c.transport != nil {
		c.transport.SetToken(c.config.API.Token)
	}
	c.creds = nil
	c.logger.Info("Removed credentials")
	return nil
}

// MigrateStore copies every stored entry into the backend named by to.
func (c *Client) MigrateStore(to string) (int, error) {
	if to == c.config.Storage.Backend {
		return 0, fmt.Errorf("storage already uses the %s backend", to)
	}

	target := c.config.Storage
	target.Backend = to
	dst, err := state.OpenBackend(target, c.logger)
	if err != nil {
		return 0, fmt.Errorf("open %s storage: %w", to, err)
	}
	defer dst.Close()

	n, err := state.Migrate(c.backend, dst)
	if err != nil {
		return n, fmt.Errorf("migrate storage: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"from":    c.config.Storage.Backend,
		"to":      to,
		"entries": n,
	}).Info("Migrated storage")

	return n, nil
}

// Close waits for background drains and releases storage.
func (c *Client) Close() error {
	c.Sync.Close()
	return c.backend.Close()
}
