// Package mysql registers the MySQL dialector with the gormstore provider.
package mysql

import (
	"github.com/kurobane/migrata/pkg/etl/adapter/store/gormstore"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func init() {
	gormstore.RegisterDialector("mysql", func(cfg gormstore.DatabaseConfig) (gorm.Dialector, error) {
		dsn, err := gormstore.ConnectionString(cfg)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	})
}
