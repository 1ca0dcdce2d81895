package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("store: key not found")

// KV is a durable string-keyed store shared by the pipeline and the
// companion-facing API. Put applies eventually; PutSync commits before
// returning and is used when the caller must not report success until the
// write is durable. Update runs a read-modify-write serialized against other
// Updates on the same key.
type KV interface {
	Get(key string) (string, error)
	Put(key, value string) error
	PutSync(key, value string) error
	Update(key string, fn func(current string, found bool) (string, error)) error
}

// Entry is the backing row for the gorm-based store.
type Entry struct {
	Key       string `gorm:"primaryKey;type:varchar(191)"`
	Value     string `gorm:"type:longtext"`
	UpdatedAt time.Time
}

func (Entry) TableName() string {
	return "kv_entries"
}

// DB is a KV backed by gorm. Read-modify-write cycles are serialized per key
// with an in-process lock table; gorm upserts handle the row itself.
type DB struct {
	db    *gorm.DB
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open connects to the configured backend and migrates the schema. Driver is
// either "sqlite" (dsn is a file path) or "mysql" (dsn is a full DSN).
func Open(driver, dsn string) (*DB, error) {
	gormLogger := logger.New(
		logrus.StandardLogger(),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to store: %w", err)
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate store schema: %w", err)
	}

	return &DB{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

// Ping verifies the underlying connection, for health checks.
func (s *DB) Ping() error {
	return s.db.Raw("SELECT 1").Error
}

func (s *DB) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *DB) Get(key string) (string, error) {
	var e Entry
	if err := s.db.First(&e, "`key` = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return e.Value, nil
}

func (s *DB) Put(key, value string) error {
	e := Entry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// PutSync commits the write in its own transaction before returning. With
// both supported backends a committed transaction is durable, which is what
// the config-sync endpoint needs before acknowledging the companion app.
func (s *DB) PutSync(key, value string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		e := Entry{Key: key, Value: value, UpdatedAt: time.Now()}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&e).Error
	})
}

// Update serializes read-modify-write cycles per key so trim logic on the
// persisted sequences is safe across concurrent pipeline invocations.
func (s *DB) Update(key string, fn func(current string, found bool) (string, error)) error {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	current, err := s.Get(key)
	found := true
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		found = false
	}

	next, err := fn(current, found)
	if err != nil {
		return err
	}

	return s.PutSync(key, next)
}
