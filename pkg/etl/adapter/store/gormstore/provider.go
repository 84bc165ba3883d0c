package gormstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/kurobane/migrata/pkg/etl/adapter/store"
	"github.com/kurobane/migrata/pkg/etl/core/config"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"

	"github.com/mitchellh/mapstructure"
	"gorm.io/gorm"
)

// DialectorFactory generates a gorm.Dialector from a DatabaseConfig.
type DialectorFactory func(cfg DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
// Driver subpackages call this from init.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory retrieves the DialectorFactory for the specified DB
// type.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// Provider opens and caches named database-backed stores from the
// application configuration.
type Provider struct {
	cfg    *config.Config
	mu     sync.RWMutex
	stores map[string]*GormStore
}

// NewProvider creates a Provider over the application configuration.
func NewProvider(cfg *config.Config) *Provider {
	return &Provider{
		cfg:    cfg,
		stores: make(map[string]*GormStore),
	}
}

// GetStore retrieves an existing store by its configuration name or opens a
// new connection.
func (p *Provider) GetStore(name string) (store.Store, error) {
	p.mu.RLock()
	s, ok := p.stores[name]
	p.mu.RUnlock()
	if ok {
		return s, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok = p.stores[name]; ok {
		return s, nil
	}
	return p.openAndStore(name)
}

// DatabaseConfigFor decodes the named connection's configuration. It is used
// by callers that need the database type, such as the schema migrator.
func (p *Provider) DatabaseConfigFor(name string) (DatabaseConfig, error) {
	rawConfig, ok := p.cfg.Migrata.AdaptorConfigs[name]
	if !ok {
		return DatabaseConfig{}, fmt.Errorf("database configuration '%s' not found in database configs", name)
	}
	var dbConfig DatabaseConfig
	if err := mapstructure.Decode(rawConfig, &dbConfig); err != nil {
		return DatabaseConfig{}, fmt.Errorf("failed to decode database config for '%s': %w", name, err)
	}
	return dbConfig, nil
}

func (p *Provider) openAndStore(name string) (*GormStore, error) {
	dbConfig, err := p.DatabaseConfigFor(name)
	if err != nil {
		return nil, err
	}

	gormDB, err := p.connect(dbConfig)
	if err != nil {
		return nil, err
	}

	s := NewGormStore(gormDB, name)
	p.stores[name] = s
	logger.Infof("Established new DB connection: %s (%s)", name, dbConfig.Type)
	return s, nil
}

// connect establishes a GORM connection based on DatabaseConfig.
func (p *Provider) connect(dbConfig DatabaseConfig) (*gorm.DB, error) {
	dialectorFactory, err := GetDialectorFactory(dbConfig.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to get dialector factory for %s: %w", dbConfig.Type, err)
	}
	dialector, err := dialectorFactory(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", dbConfig.Type, err)
	}

	gormConfig := &gorm.Config{
		Logger: NewGormLogger(p.cfg.Migrata.System.Logging.Level),
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(dbConfig.Pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(dbConfig.Pool.MaxIdleConns)
	if dbConfig.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbConfig.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}

	return db, nil
}

// CloseAll closes every store opened by this provider.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for name, s := range p.stores {
		if err := s.Close(); err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.stores, name)
	}
	return lastErr
}

// ConnectionString builds the driver DSN for a DatabaseConfig. It is used by
// the dialector factories in the driver subpackages.
func ConnectionString(c DatabaseConfig) (string, error) {
	switch c.Type {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.Database, c.Sslmode), nil
	case "mysql":
		var authPart string
		if c.User != "" {
			authPart = c.User
			if c.Password != "" {
				authPart = fmt.Sprintf("%s:%s", c.User, c.Password)
			}
			authPart += "@"
		}
		return fmt.Sprintf("%stcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			authPart, c.Host, c.Port, c.Database), nil
	case "sqlite":
		// The SQLite dialector expects the file path directly.
		return c.Database, nil
	default:
		return "", fmt.Errorf("unsupported database type: %s", c.Type)
	}
}
