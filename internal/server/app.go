// Package server wires the devsync components together and runs them until
// the process is told to stop.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/devsync/internal/logging"
	"github.com/dmitrijs2005/devsync/internal/server/access"
	"github.com/dmitrijs2005/devsync/internal/server/blobstore"
	"github.com/dmitrijs2005/devsync/internal/server/broker"
	"github.com/dmitrijs2005/devsync/internal/server/config"
	"github.com/dmitrijs2005/devsync/internal/server/httpserver"
	"github.com/dmitrijs2005/devsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/devsync/internal/server/services"
	"github.com/dmitrijs2005/devsync/internal/server/session"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const sessionShutdownTimeout = 30 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	repos    repomanager.RepositoryManager
	registry *session.Registry
	http     *httpserver.Server
}

// sqlOpen is replaced in tests.
var sqlOpen = sql.Open

func newLogger(c *config.Config) (logging.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	return logging.NewJSONLogger(os.Stdout, level), nil
}

func openRepositories(c *config.Config) (*sql.DB, repomanager.RepositoryManager, error) {
	if c.UseMemoryRegistry() {
		return nil, repomanager.NewMemoryRepositoryManager(), nil
	}
	db, err := sqlOpen("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("db init error: %w", err)
	}
	return db, repomanager.NewPostgresRepositoryManager(db), nil
}

func newBlobStore(ctx context.Context, c *config.Config) (blobstore.Store, error) {
	if c.BlobBackend == config.BlobBackendMemory {
		return blobstore.NewMemory(c.S3PublicURL), nil
	}
	return blobstore.NewS3Store(ctx, blobstore.S3Options{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		Bucket:       c.S3Bucket,
		BaseEndpoint: c.S3BaseEndpoint,
		PublicURL:    c.S3PublicURL,
		PresignTTL:   c.PresignTTL,
	})
}

// NewApp builds every component from c and runs pending migrations.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, err := newLogger(c)
	if err != nil {
		return nil, err
	}

	db, repos, err := openRepositories(c)
	if err != nil {
		return nil, err
	}
	app := &App{config: c, logger: logger, db: db, repos: repos}

	if err := repos.RunMigrations(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	blobs, err := newBlobStore(ctx, c)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	reconciler := session.NewReconciler(blobs, repos.Files(), logger)
	// teardown flushes outlive request contexts
	app.registry = session.NewRegistry(context.Background(), reconciler, session.Options{
		SeedTimeout:      c.SeedTimeout,
		FlushOnLastLeave: c.FlushOnLastLeave,
	}, logger)

	gate := access.NewGate(repos.Files())
	files := services.NewFileService(repos, blobs, gate, reconciler, app.registry, logger)
	rooms := broker.New(gate, app.registry, broker.Options{
		WriteTimeout: c.WSWriteTimeout,
		PingPeriod:   c.WSPingPeriod,
	}, logger)
	app.http = httpserver.New(c.EndpointAddrHTTP, files, rooms, c.MaxUploadBytes, logger)

	return app, nil
}

// Migrate applies the schema and exits; used by the migrate command.
func Migrate(ctx context.Context, c *config.Config) error {
	if c.UseMemoryRegistry() {
		return errors.New("migrate needs a database dsn")
	}
	db, repos, err := openRepositories(c)
	if err != nil {
		return err
	}
	defer db.Close()
	return repos.RunMigrations(ctx)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.http.Run(ctx); err != nil {
		app.logger.Error(ctx, "http server stopped", "error", err)
		cancelFunc()
	}
}

// Run serves until ctx is canceled or a signal arrives, then ends the live
// sessions and closes the database.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "address", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sessionShutdownTimeout)
	defer cancel()
	if err := app.registry.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "unsaved sessions at shutdown", "error", err)
	}
	app.Close()
	app.logger.Info(shutdownCtx, "stopped")
}

func (app *App) Close() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Warn(context.Background(), "db close", "error", err)
		}
	}
}
