// Package app bootstraps a workspace: database, migrations and config. The
// CLI, the HTTP server and the tests all go through the same path.
package app

import (
	"database/sql"

	"rewardline/internal/config"
	"rewardline/internal/db"
	"rewardline/internal/engine"
	"rewardline/internal/migrate"
)

// Context holds everything an invocation needs.
type Context struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

// Open prepares the workspace and returns a ready Context. The config file is
// optional; a missing one yields defaults.
func Open(workspace string) (*Context, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Context{
		DB:     conn,
		Config: cfg,
		Engine: engine.New(conn, cfg),
	}, nil
}

// Close releases the workspace database.
func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
