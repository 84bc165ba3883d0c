// Package sqlite registers the SQLite dialector with the gormstore provider.
package sqlite

import (
	"github.com/kurobane/migrata/pkg/etl/adapter/store/gormstore"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func init() {
	gormstore.RegisterDialector("sqlite", func(cfg gormstore.DatabaseConfig) (gorm.Dialector, error) {
		dsn, err := gormstore.ConnectionString(cfg)
		if err != nil {
			return nil, err
		}
		return sqlite.Open(dsn), nil
	})
}
