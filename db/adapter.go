package db

import (
	"fmt"

	"github.com/ignite-rpg/ignite-api/config"
	dbmysql "github.com/ignite-rpg/ignite-api/db/mysql"
	dbpostgres "github.com/ignite-rpg/ignite-api/db/postgres"
	dbsqlite "github.com/ignite-rpg/ignite-api/db/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/dbresolver"
)

const (
	ModeSQLite   = "sqlite"
	ModeMySQL    = "mysql"
	ModePostgres = "postgres"
)

// Open returns a *gorm.DB for the configured database mode. Replica DSNs, if
// any, are registered with dbresolver so plain reads are spread across them.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var (
		db       *gorm.DB
		err      error
		replicas []gorm.Dialector
	)
	switch cfg.Mode {
	case ModeSQLite:
		if len(cfg.Replicas) > 0 {
			return nil, fmt.Errorf("db: replicas are not supported in %q mode", cfg.Mode)
		}
		return dbsqlite.Open(cfg.SQLitePath)
	case ModeMySQL:
		db, err = dbmysql.Open(cfg.DSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife)
		for _, dsn := range cfg.Replicas {
			replicas = append(replicas, mysql.Open(dsn))
		}
	case ModePostgres:
		db, err = dbpostgres.Open(cfg.DSN, cfg.MaxOpen, cfg.MaxIdle, cfg.MaxLife)
		for _, dsn := range cfg.Replicas {
			replicas = append(replicas, postgres.Open(dsn))
		}
	default:
		return nil, fmt.Errorf("db: unknown mode %q", cfg.Mode)
	}
	if err != nil {
		return nil, err
	}

	if len(replicas) > 0 {
		resolver := dbresolver.Register(dbresolver.Config{
			Replicas: replicas,
			Policy:   dbresolver.RandomPolicy{},
		}).
			SetMaxOpenConns(cfg.MaxOpen).
			SetMaxIdleConns(cfg.MaxIdle).
			SetConnMaxLifetime(cfg.MaxLife)
		if err := db.Use(resolver); err != nil {
			return nil, fmt.Errorf("db: register replicas: %w", err)
		}
	}
	return db, nil
}
