package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/tablesense/internal/profile"
	"github.com/hrygo/tablesense/store"
	"github.com/hrygo/tablesense/store/db/postgres"
	"github.com/hrygo/tablesense/store/db/sqlite"
)

// NewDBDriver creates new db driver based on profile.
//
// SQLite is the default and needs no setup. PostgreSQL requires the pgvector
// extension for memory search.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: only 'postgres' and 'sqlite' are supported", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
