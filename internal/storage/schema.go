package storage

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/rs/zerolog"
)

// JournalOptions tunes a Journal backend.
type JournalOptions struct {
	// Retain caps the entries kept per collection. Zero keeps all of them.
	Retain int
}

// MigrateSchema brings a journal schema up to date. A schema left dirty by
// an interrupted run is reset to its recorded version first; the journal
// tables are created idempotently, so replaying that version is safe.
func MigrateSchema(m *migrate.Migrate, backend string, logger zerolog.Logger) error {
	log := logger.With().Str("backend", backend).Logger()

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
	case err != nil:
		return fmt.Errorf("journal schema version: %w", err)
	case dirty:
		log.Warn().Uint("version", from).Msg("journal schema dirty, forcing recorded version")
		if err := m.Force(int(from)); err != nil {
			return fmt.Errorf("journal schema force %d: %w", from, err)
		}
	}

	if err := m.Up(); errors.Is(err, migrate.ErrNoChange) {
		log.Debug().Uint("version", from).Msg("journal schema current")
		return nil
	} else if err != nil {
		return fmt.Errorf("journal schema up: %w", err)
	}
	to, _, _ := m.Version()
	log.Info().Uint("from", from).Uint("to", to).Msg("journal schema migrated")
	return nil
}
