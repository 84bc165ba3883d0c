// Package postgres registers the PostgreSQL dialector with the gormstore
// provider.
package postgres

import (
	"github.com/kurobane/migrata/pkg/etl/adapter/store/gormstore"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func init() {
	gormstore.RegisterDialector("postgres", func(cfg gormstore.DatabaseConfig) (gorm.Dialector, error) {
		dsn, err := gormstore.ConnectionString(cfg)
		if err != nil {
			return nil, err
		}
		return postgres.Open(dsn), nil
	})
}
