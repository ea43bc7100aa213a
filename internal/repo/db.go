package repo

import (
	"fmt"
	"regexp"

	"github.com/xxxsen/contentvec/internal/config"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Open connects the backend selected by cfg.Driver.
func Open(cfg config.DatabaseConfig) (Database, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.Path)
	case "postgres":
		return OpenPostgres(postgresDSN(cfg))
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func postgresDSN(cfg config.DatabaseConfig) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslmode)
}

// validateTableName guards identifiers that are formatted into SQL.
func validateTableName(name string) error {
	if !tableNameRe.MatchString(name) {
		return appErr.Invalid("table", "%q is not a valid identifier", name)
	}
	return nil
}
