package data

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported values for the database engine option.
const (
	EnginePostgres = "postgres"
	EngineSQLite   = "sqlite"
)

// Initialize opens a connection to the database described by dataSource and
// migrates the schema. For sqlite, dataSource is the path to the database file.
func Initialize(engine, dataSource string, log *logrus.Logger, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch engine {
	case EnginePostgres:
		dialector = postgres.Open(dataSource)
	case EngineSQLite, "":
		dialector = sqlite.Open(dataSource)
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", engine)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newLogger(log, debug)})
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate brings the schema up to date with the models in this package.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Account{}, &SessionRecord{}, &Module{}); err != nil {
		return fmt.Errorf("error auto migrating db: %w", err)
	}
	return nil
}

// first loads the first row of T matching query and conds, returning nil
// rather than an error when nothing matches.
func first[T any](query *gorm.DB, conds ...interface{}) (*T, error) {
	var row T
	if err := query.First(&row, conds...).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// By default only log errors but enable full SQL query logging in debug mode.
func newLogger(log *logrus.Logger, debug bool) logger.Interface {
	if log == nil {
		return logger.Default.LogMode(logger.Silent)
	}
	level := logger.Error
	if debug {
		level = logger.Info
	}
	return logger.New(log, logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

func Shutdown(db *gorm.DB) error {
	database, err := db.DB()
	if err != nil {
		return fmt.Errorf("error while getting current connection: %w", err)
	}
	if err := database.Close(); err != nil {
		return fmt.Errorf("error while closing database connection: %w", err)
	}
	return nil
}
