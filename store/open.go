////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package store

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// SQLite is the default driver.
	SQLite = "sqlite"

	// Postgres selects the postgres driver. The DSN is a libpq connection
	// string or URL.
	Postgres = "postgres"

	// Can be provided to SQLite to create a temporary, in-memory DB.
	temporaryDbPath = "file:%s?mode=memory&cache=shared"
)

// Params configures the database connection.
type Params struct {
	// Driver is SQLite or Postgres.
	Driver string

	// DSN is the data source. An empty SQLite DSN opens a temporary
	// in-memory database.
	DSN string

	// Connection pool settings, used by Postgres only.
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// GetDefaultParams returns a Params for a temporary SQLite database.
func GetDefaultParams() Params {
	return Params{
		Driver:          SQLite,
		DSN:             "",
		MaxIdleConns:    5,
		MaxOpenConns:    10,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnMaxLifetime: 10 * time.Minute,
	}
}

// TemporaryDSN returns the SQLite DSN of a named in-memory database. Stores
// opened with the same name share the database.
func TemporaryDSN(name string) string {
	return fmt.Sprintf(temporaryDbPath, name)
}

// OpenDB opens and configures the database described by p.
func OpenDB(p Params) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch p.Driver {
	case SQLite, "":
		dsn := p.DSN
		if dsn == "" {
			dsn = TemporaryDSN("parley")
			jww.WARN.Printf("[STORE] No database specified! " +
				"Using temporary in-memory database")
		}
		dialector = sqlite.Open(dsn)
	case Postgres:
		dialector = postgres.Open(p.DSN)
	default:
		return nil, errors.Errorf("unknown database driver %q", p.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(jww.TRACE, logger.Config{LogLevel: logger.Info}),
	})
	if err != nil {
		return nil, errors.Errorf(
			"Unable to initialize database backend: %+v", err)
	}

	if p.Driver != Postgres {
		// Enable Write Ahead Logging to allow multiple connections
		if err = db.Exec("PRAGMA journal_mode = WAL;").Error; err != nil {
			return nil, err
		}
	}

	sqlDb, err := db.DB()
	if err != nil {
		return nil, errors.Errorf(
			"Unable to configure database connection pool: %+v", err)
	}
	if p.Driver == Postgres {
		sqlDb.SetMaxIdleConns(p.MaxIdleConns)
		sqlDb.SetMaxOpenConns(p.MaxOpenConns)
		sqlDb.SetConnMaxIdleTime(p.ConnMaxIdleTime)
		sqlDb.SetConnMaxLifetime(p.ConnMaxLifetime)
	} else {
		// SQLite serialises writers anyway, and a shared in-memory database
		// is dropped when its last connection closes, so keep exactly one
		// connection open for the lifetime of the store.
		sqlDb.SetMaxOpenConns(1)
		sqlDb.SetMaxIdleConns(1)
	}

	jww.INFO.Printf("[STORE] Opened %s database", dialector.Name())
	return db, nil
}
