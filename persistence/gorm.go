package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	_ "github.com/lib/pq"
	"github.com/tcriess/stride-chat/config"
	"github.com/tcriess/stride-chat/globals"
	"github.com/tcriess/stride-chat/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore implements Store on sqlite or postgres. A GormStore created by
// Transaction is bound to that transaction.
type GormStore struct {
	db   *gorm.DB
	inTx bool
	now  func() time.Time
}

var _ Store = (*GormStore)(nil)

func NewGormStore(cfg *config.Config) (*GormStore, error) {
	return OpenGormStore(cfg.PersistenceConfig)
}

func OpenGormStore(pc config.PersistenceConfig) (*GormStore, error) {
	db, err := setupGormDB(pc)
	if err != nil {
		return nil, err
	}
	return &GormStore{db: db, now: storeNow}, nil
}

// storeNow truncates to microseconds so timestamps survive a postgres round trip unchanged.
func storeNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func setupGormDB(pc config.PersistenceConfig) (*gorm.DB, error) {
	if pc.DSN == "" {
		return nil, fmt.Errorf("empty persistence dsn")
	}
	var dial gorm.Dialector
	switch pc.Type {
	case "postgres":
		sqlDB, err := sql.Open("postgres", pc.DSN)
		if err != nil {
			return nil, err
		}
		dial = postgres.New(postgres.Config{Conn: sqlDB})

	case "sqlite":
		dial = sqlite.Open(pc.DSN)

	default:
		return nil, fmt.Errorf("invalid persistence type %q", pc.Type)
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: newGormLogger()})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if pc.Type == "sqlite" {
		// one writer at a time; transactions queue on the pool instead of failing with SQLITE_BUSY
		sqlDB.SetMaxOpenConns(1)
	} else if pc.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pc.MaxOpenConns)
	}
	err = db.AutoMigrate(&types.User{}, &types.Room{}, &types.Member{}, &types.Message{}, &types.InboxItem{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func newGormLogger() logger.Interface {
	w := globals.AppLogger.Named("gorm").StandardLogger(&hclog.StandardLoggerOptions{InferLevels: true})
	return logger.New(w, logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// tx runs fn in a transaction, or directly when the store is already bound to one.
func (p *GormStore) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if p.inTx {
		return fn(p.db.WithContext(ctx))
	}
	return p.db.WithContext(ctx).Transaction(fn)
}

func (p *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	if p.inTx {
		return fn(p)
	}
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true, now: p.now})
	})
	return classify(err, "transaction")
}

func (p *GormStore) Close() error {
	if p.inTx {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
