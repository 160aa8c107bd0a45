package sqlstore

import (
	"database/sql"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-federation/core"
)

type RepositoryFactory struct {
	db *bun.DB

	actorStore     *ActorStore
	activityLedger *ActivityLedger
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// NewRepositoryFactoryFromSQL wraps an opened database handle with the bun
// dialect matching the driver and builds the stores on top of it.
func NewRepositoryFactoryFromSQL(sqldb *sql.DB, driver string) (*RepositoryFactory, error) {
	db, err := WrapDB(sqldb, driver)
	if err != nil {
		return nil, err
	}
	return NewRepositoryFactoryFromDB(db)
}

// WrapDB pairs a database handle with the bun dialect for its driver.
func WrapDB(sqldb *sql.DB, driver string) (*bun.DB, error) {
	if sqldb == nil {
		return nil, sqlstoreInvalid("sqlstore: sql db handle is required")
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pg", "pgx":
		return bun.NewDB(sqldb, pgdialect.New()), nil
	case "sqlite", "sqlite3":
		return bun.NewDB(sqldb, sqlitedialect.New()), nil
	default:
		return nil, sqlstoreInvalid(fmt.Sprintf("sqlstore: unsupported sql driver %q", driver))
	}
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) error {
	if f == nil {
		return sqlstoreInvalid("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.actorStore != nil && f.activityLedger != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) ActorStore() core.ActorStore {
	if f == nil {
		return nil
	}
	return f.actorStore
}

func (f *RepositoryFactory) ActivityLedger() core.ActivityLedger {
	if f == nil {
		return nil
	}
	return f.activityLedger
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	actorRepo := repository.NewRepository[*actorRecord](f.db, actorHandlers())
	if validator, ok := actorRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid actor repository wiring: %w", err)
		}
	}

	activityRepo := repository.NewRepository[*processedActivityRecord](f.db, processedActivityHandlers())
	if validator, ok := activityRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid activity ledger repository wiring: %w", err)
		}
	}

	f.actorStore = &ActorStore{db: f.db, repo: actorRepo}
	f.activityLedger = &ActivityLedger{db: f.db, repo: activityRepo}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, sqlstoreInvalid("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, sqlstoreInvalid("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, sqlstoreInvalid(fmt.Sprintf("sqlstore: unsupported persistence client type %T", candidate))
	}
}

func sqlstoreNotConfigured(what string) error {
	return goerrors.New("sqlstore: "+what+" is not configured", goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.FederationErrorInternal)
}

func sqlstoreInvalid(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.FederationErrorBadInput)
}

func sqlstoreWrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.FederationErrorInternal)
}
