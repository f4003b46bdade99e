package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS patients (
	id                 TEXT PRIMARY KEY,
	clinic_id          TEXT NOT NULL,
	name               TEXT NOT NULL,
	email              TEXT,
	phone              TEXT,
	linked_uid         TEXT,
	assigned_nutri_uid TEXT,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS patients_linked_uid_key
	ON patients (linked_uid) WHERE linked_uid IS NOT NULL;
CREATE INDEX IF NOT EXISTS patients_clinic_created_idx
	ON patients (clinic_id, created_at DESC);

CREATE TABLE IF NOT EXISTS appointments (
	id                TEXT PRIMARY KEY,
	clinic_id         TEXT NOT NULL,
	patient_id        TEXT NOT NULL REFERENCES patients (id),
	patient_uid       TEXT NOT NULL,
	status            TEXT NOT NULL CHECK (status IN ('requested', 'scheduled', 'cancelled', 'completed')),
	notes             TEXT NOT NULL DEFAULT '',
	requested_at      TIMESTAMPTZ NOT NULL,
	scheduled_for     TIMESTAMPTZ,
	cancelled_at      TIMESTAMPTZ,
	cancelled_by_uid  TEXT,
	cancelled_by_role TEXT,
	completed_at      TIMESTAMPTZ,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS appointments_clinic_created_idx
	ON appointments (clinic_id, created_at DESC);
CREATE INDEX IF NOT EXISTS appointments_patient_uid_created_idx
	ON appointments (patient_uid, created_at DESC);

CREATE TABLE IF NOT EXISTS patient_audit (
	id             TEXT PRIMARY KEY,
	patient_id     TEXT NOT NULL REFERENCES patients (id),
	action         TEXT NOT NULL,
	from_clinic_id TEXT NOT NULL,
	to_clinic_id   TEXT NOT NULL,
	by_uid         TEXT NOT NULL,
	by_role        TEXT NOT NULL,
	reason         TEXT,
	at             TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS patient_audit_patient_idx
	ON patient_audit (patient_id, at DESC);
`

// Migrate creates the schema. It is idempotent.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
