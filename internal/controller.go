package internal

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/wordquizzle/wordquizzle/internal/account"
	"github.com/wordquizzle/wordquizzle/internal/core"
	"github.com/wordquizzle/wordquizzle/internal/core/data"
	"github.com/wordquizzle/wordquizzle/internal/core/debug"
	"github.com/wordquizzle/wordquizzle/internal/core/pool"
	"github.com/wordquizzle/wordquizzle/internal/dictionary"
	"github.com/wordquizzle/wordquizzle/internal/game"
	"github.com/wordquizzle/wordquizzle/internal/match"
	"github.com/wordquizzle/wordquizzle/internal/oracle"
	"github.com/wordquizzle/wordquizzle/internal/rendezvous"
)

// Controller is the main entrypoint for the server. It's responsible for
// initializing the shared resources (database, logging, dictionary, worker
// pool), constructing the game and rendezvous servers, and launching
// everything.
type Controller struct {
	Config *core.Config

	logger  *logrus.Logger
	db      *gorm.DB
	workers *pool.Pool
	wg      sync.WaitGroup

	servers []*frontend
}

func (c *Controller) Start(ctx context.Context) error {
	defer c.shutdown()

	var err error
	// Set up the logger, which will be used by all sub-servers.
	c.logger, err = core.NewLogger(c.Config)
	if err != nil {
		return fmt.Errorf("error initializing logger: %w", err)
	}

	// Start any debug utilities if we're configured to do so.
	if c.Config.Debugging.Enabled {
		debug.StartUtilities(c.logger, c.Config.Debugging.PprofPort)
	}

	dataSource := c.Config.Database.Filename
	if c.Config.Database.Engine == "postgres" {
		dataSource = c.Config.DatabaseURL()
	}
	c.db, err = data.Initialize(c.Config.Database.Engine, dataSource, c.Config.Debugging.Enabled)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	store := account.NewDBStore(c.db, c.logger)

	dict, err := dictionary.Load(c.Config.Game.DictionaryFile)
	if err != nil {
		return fmt.Errorf("error loading dictionary: %w", err)
	}
	c.logger.Infof("loaded dictionary with %d words", dict.Size())

	translator := oracle.NewMyMemoryClient(c.Config, c.logger)
	engine := match.NewEngine(c.Config, dict, translator, c.logger)
	c.workers = pool.New(c.Config.WorkerPoolSize)

	// The challenge handshake runs over its own datagram socket, out of band
	// from the game connections.
	rendezvousServer := &rendezvous.Server{
		Name:   "RENDEZVOUS",
		Config: c.Config,
		Logger: c.logger,
		Store:  store,
		Engine: engine,
		Pool:   c.workers,
	}
	if err := rendezvousServer.Start(ctx, &c.wg); err != nil {
		return fmt.Errorf("error starting rendezvous server: %w", err)
	}

	c.declareServers(store, engine)
	return c.run(ctx)
}

// declareServers sets up the stream-side servers we want to run.
func (c *Controller) declareServers(store account.Store, engine *match.Engine) {
	c.servers = []*frontend{
		{
			Address: c.Config.GameServerAddress(),
			Backend: &game.Server{
				Name:   "GAME",
				Config: c.Config,
				Logger: c.logger,
				Store:  store,
				Engine: engine,
			},
		},
	}
}

func (c *Controller) run(ctx context.Context) error {
	// Start all of our servers. Failure to initialize one of the registered
	// servers is considered terminal.
	for _, server := range c.servers {
		server.Config = c.Config
		server.Logger = c.logger
		server.Pool = c.workers

		if err := server.Start(ctx, &c.wg); err != nil {
			return fmt.Errorf("error starting %s server: %w", server.Backend.Identifier(), err)
		}
	}

	c.wg.Wait()
	return nil
}

func (c *Controller) shutdown() {
	c.wg.Wait()

	if c.workers != nil {
		c.workers.Shutdown()
	}
	if c.db != nil {
		if err := data.Shutdown(c.db); err != nil && c.logger != nil {
			c.logger.Errorf("error closing database: %v", err)
		}
	}
}
