package store

import (
	"fmt"
	"strings"
)

const (
	ModeMemory   = "memory"
	ModeSQLite   = "sqlite"
	ModePostgres = "postgres"
)

// Open picks a backend by mode and returns the normalized mode name alongside it.
func Open(mode, dsn, localPath string) (Store, string, error) {
	switch normalizeMode(mode) {
	case ModeMemory:
		return NewMemoryStore(), ModeMemory, nil
	case ModeSQLite:
		path := strings.TrimSpace(localPath)
		if path == "" {
			var err error
			if path, err = DefaultLocalDatabasePath(); err != nil {
				return nil, "", err
			}
		}
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, "", err
		}
		return s, ModeSQLite, nil
	case ModePostgres:
		s, err := NewPostgresStore(dsn)
		if err != nil {
			return nil, "", err
		}
		return s, ModePostgres, nil
	default:
		return nil, "", fmt.Errorf("invalid store mode %q (supported: %s, %s, %s)", mode, ModeMemory, ModeSQLite, ModePostgres)
	}
}

func normalizeMode(mode string) string {
	switch raw := strings.ToLower(strings.TrimSpace(mode)); raw {
	case "", "local", ModeSQLite:
		return ModeSQLite
	case "mem", ModeMemory:
		return ModeMemory
	case "db", "postgresql", ModePostgres:
		return ModePostgres
	default:
		return raw
	}
}
