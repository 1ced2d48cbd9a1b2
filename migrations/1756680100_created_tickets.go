package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		if _, err := app.DB().NewQuery(`
			CREATE TABLE IF NOT EXISTS tickets (
				id               TEXT PRIMARY KEY,
				event_id         TEXT NOT NULL REFERENCES events (id),
				current_owner_id TEXT NOT NULL,
				price            TEXT NOT NULL,
				state            TEXT NOT NULL DEFAULT 'listed',
				document_ref     TEXT NOT NULL DEFAULT '',
				version          INTEGER NOT NULL DEFAULT 1,
				created          TEXT NOT NULL,
				updated          TEXT NOT NULL
			)
		`).Execute(); err != nil {
			return err
		}

		_, err := app.DB().NewQuery(`
			CREATE INDEX IF NOT EXISTS idx_tickets_event_state ON tickets (event_id, state)
		`).Execute()
		return err
	}, func(app core.App) error {
		_, err := app.DB().NewQuery(`DROP TABLE IF EXISTS tickets`).Execute()
		return err
	})
}
