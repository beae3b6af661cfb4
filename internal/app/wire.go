package app

import (
	"strings"

	"github.com/tallyhr/accesscore/internal/access"
	"github.com/tallyhr/accesscore/internal/directory"
)

// SessionConfig translates the access section into the core's session
// configuration. The audit sink is attached by the caller when enabled.
func (c *Config) SessionConfig() access.SessionConfig {
	cfg := access.SessionConfig{
		TTL:              c.Access.TTL,
		Grace:            c.Access.Grace,
		PropagateErrors:  c.Access.PropagateErrors,
		ThrottleLimit:    int64(c.Access.ThrottleLimit),
		ThrottleWait:     c.Access.ThrottleWait,
		PreloadBatchSize: c.Access.PreloadBatchSize,
	}

	if strings.EqualFold(c.Access.Fallback, "closed") {
		cfg.Fallback = access.FailClosed
	} else {
		cfg.Fallback = access.FailOpen
	}

	if c.Access.MissHeuristic {
		cfg.MissPolicy = access.MissHeuristic
	}

	if c.Access.Preload {
		cfg.Preload = access.DefaultCriticalPermissions
	}

	return cfg
}

// DirectoryConfig translates the database section into directory connection
// options.
func (c *Config) DirectoryConfig() directory.Config {
	cfg := directory.Config{
		Driver: c.Database.Driver,
		Path:   c.Database.Path,
		DSN:    c.Database.DSN,
	}

	switch strings.ToLower(c.Database.Driver) {
	case "postgres", "postgresql":
		if c.Database.Postgres.Enabled {
			cfg.Host = c.Database.Postgres.Host
			cfg.Port = c.Database.Postgres.Port
			cfg.Name = c.Database.Postgres.Database
			cfg.User = c.Database.Postgres.Username
			cfg.Password = c.Database.Postgres.Password
		}
	case "mysql", "mariadb":
		if c.Database.MySQL.Enabled {
			cfg.Host = c.Database.MySQL.Host
			cfg.Port = c.Database.MySQL.Port
			cfg.Name = c.Database.MySQL.Database
			cfg.User = c.Database.MySQL.Username
			cfg.Password = c.Database.MySQL.Password
		}
	}

	return cfg
}
