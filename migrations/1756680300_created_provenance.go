package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		if _, err := app.DB().NewQuery(`
			CREATE TABLE IF NOT EXISTS provenance_entries (
				id                TEXT PRIMARY KEY,
				ticket_id         TEXT NOT NULL REFERENCES tickets (id),
				document_ref      TEXT NOT NULL DEFAULT '',
				issued_to_user_id TEXT NOT NULL,
				issued_at         TEXT NOT NULL,
				is_current        INTEGER NOT NULL DEFAULT 0
			)
		`).Execute(); err != nil {
			return err
		}

		// Storage-level defense: exactly one current provenance entry per
		// ticket at any time.
		_, err := app.DB().NewQuery(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_provenance_current
			ON provenance_entries (ticket_id) WHERE is_current = 1
		`).Execute()
		return err
	}, func(app core.App) error {
		_, err := app.DB().NewQuery(`DROP TABLE IF EXISTS provenance_entries`).Execute()
		return err
	})
}
