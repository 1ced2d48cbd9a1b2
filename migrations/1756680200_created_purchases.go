package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		if _, err := app.DB().NewQuery(`
			CREATE TABLE IF NOT EXISTS purchases (
				id            TEXT PRIMARY KEY,
				ticket_id     TEXT NOT NULL REFERENCES tickets (id),
				buyer_id      TEXT NOT NULL,
				seller_id     TEXT NOT NULL,
				purchased_at  TEXT NOT NULL,
				superseded_at TEXT
			)
		`).Execute(); err != nil {
			return err
		}

		// Storage-level defense: at most one active purchase per ticket,
		// independent of any engine bug.
		if _, err := app.DB().NewQuery(`
			CREATE UNIQUE INDEX IF NOT EXISTS idx_purchases_active
			ON purchases (ticket_id) WHERE superseded_at IS NULL
		`).Execute(); err != nil {
			return err
		}

		_, err := app.DB().NewQuery(`
			CREATE TABLE IF NOT EXISTS payments (
				id                TEXT PRIMARY KEY,
				purchase_id       TEXT NOT NULL UNIQUE REFERENCES purchases (id),
				amount            TEXT NOT NULL,
				method            TEXT NOT NULL,
				instrument_digest TEXT NOT NULL,
				instrument_masked TEXT NOT NULL,
				paid_at           TEXT NOT NULL
			)
		`).Execute()
		return err
	}, func(app core.App) error {
		if _, err := app.DB().NewQuery(`DROP TABLE IF EXISTS payments`).Execute(); err != nil {
			return err
		}
		_, err := app.DB().NewQuery(`DROP TABLE IF EXISTS purchases`).Execute()
		return err
	})
}
