package persistence

import "context"

// Bootstrap creates the governance schema. Every statement is idempotent so
// the command can be rerun against a live database.
func Bootstrap(ctx context.Context, db querier) error {
	statements := []string{
		`CREATE SCHEMA IF NOT EXISTS governance;`,

		`CREATE SEQUENCE IF NOT EXISTS governance.record_ids;`,

		`CREATE TABLE IF NOT EXISTS governance.audits (
		  id uuid PRIMARY KEY,
		  tenant_id uuid NOT NULL,
		  model text NOT NULL,
		  model_id bigint NOT NULL,
		  field text,
		  previous_value text,
		  current_value text,
		  user_uuid uuid NOT NULL,
		  action text NOT NULL,
		  requires_auth boolean NOT NULL DEFAULT false,
		  ref_id uuid REFERENCES governance.audits (id),
		  created timestamptz NOT NULL,
		  updated timestamptz NOT NULL
		);`,

		`CREATE INDEX IF NOT EXISTS audits_record_idx
		  ON governance.audits (tenant_id, model, model_id);`,

		`CREATE INDEX IF NOT EXISTS audits_pending_idx
		  ON governance.audits (tenant_id, created)
		  WHERE requires_auth AND ref_id IS NULL;`,

		`CREATE TABLE IF NOT EXISTS governance.records (
		  tenant_id uuid NOT NULL,
		  model text NOT NULL,
		  id bigint NOT NULL,
		  data jsonb NOT NULL DEFAULT '{}'::jsonb,
		  PRIMARY KEY (tenant_id, model, id)
		);`,

		`CREATE TABLE IF NOT EXISTS governance.roles (
		  tenant_id uuid NOT NULL,
		  id text NOT NULL,
		  name text NOT NULL,
		  default_level smallint NOT NULL,
		  PRIMARY KEY (tenant_id, id)
		);`,

		`CREATE TABLE IF NOT EXISTS governance.field_permissions (
		  tenant_id uuid NOT NULL,
		  role_id text NOT NULL,
		  model text NOT NULL,
		  field text NOT NULL,
		  level smallint NOT NULL,
		  rule_expr text,
		  PRIMARY KEY (tenant_id, role_id, model, field)
		);`,

		`CREATE TABLE IF NOT EXISTS governance.user_roles (
		  tenant_id uuid NOT NULL,
		  user_uuid uuid NOT NULL,
		  role_id text NOT NULL,
		  PRIMARY KEY (tenant_id, user_uuid)
		);`,

		`CREATE TABLE IF NOT EXISTS governance.reputation_metrics (
		  tenant_id uuid NOT NULL,
		  model text NOT NULL,
		  action text NOT NULL,
		  direct_write_score int NOT NULL DEFAULT 0,
		  approval_score int NOT NULL DEFAULT 0,
		  denial_score int NOT NULL DEFAULT 0,
		  PRIMARY KEY (tenant_id, model, action)
		);`,

		`CREATE TABLE IF NOT EXISTS governance.reputation_scores (
		  tenant_id uuid NOT NULL,
		  user_uuid uuid NOT NULL,
		  score int NOT NULL DEFAULT 0,
		  PRIMARY KEY (tenant_id, user_uuid)
		);`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
