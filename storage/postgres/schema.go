package postgres

import "fmt"

const documentsTable = "policy_documents"

const checkpointsTable = "job_checkpoints"

// schema returns the DDL for a store with dims-wide vectors and the given HNSW parameters.
func schema(dims, m, efConstruction int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id                 BIGSERIAL PRIMARY KEY,
			policy_name        TEXT NOT NULL,
			source_filename    TEXT NOT NULL UNIQUE,
			full_text          TEXT NOT NULL,
			region             TEXT NOT NULL DEFAULT '',
			category           TEXT NOT NULL DEFAULT '',
			deadline           TEXT NOT NULL DEFAULT '',
			summary            TEXT NOT NULL DEFAULT '',
			operation_period   TEXT NOT NULL DEFAULT '',
			application_period TEXT NOT NULL DEFAULT '',
			support_scale      TEXT NOT NULL DEFAULT '',
			support_content    TEXT NOT NULL DEFAULT '',
			last_modified      TEXT NOT NULL DEFAULT '',
			policy_number      TEXT NOT NULL DEFAULT '',
			views              BIGINT NOT NULL DEFAULT 0 CHECK (views >= 0),
			scraps             BIGINT NOT NULL DEFAULT 0 CHECK (scraps >= 0),
			tags               TEXT[] NOT NULL DEFAULT '{}',
			eligibility        JSONB NOT NULL DEFAULT '{}',
			application_info   JSONB NOT NULL DEFAULT '{}',
			additional_info    JSONB NOT NULL DEFAULT '{}',
			required_documents TEXT[] NOT NULL DEFAULT '{}',
			embedding          vector(%d),
			storage_ref        JSONB,
			content_hash       BIGINT NOT NULL DEFAULT 0,
			created_at         TIMESTAMPTZ NOT NULL,
			updated_at         TIMESTAMPTZ NOT NULL,
			retired            BOOLEAN NOT NULL DEFAULT FALSE
		)`, documentsTable, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx ON %[1]s
			USING hnsw (embedding vector_cosine_ops) WITH (m = %[2]d, ef_construction = %[3]d)`,
			documentsTable, m, efConstruction),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_tags_idx ON %[1]s USING gin (tags)`, documentsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_eligibility_idx ON %[1]s USING gin (eligibility jsonb_path_ops)`, documentsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_application_info_idx ON %[1]s USING gin (application_info jsonb_path_ops)`, documentsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_additional_info_idx ON %[1]s USING gin (additional_info jsonb_path_ops)`, documentsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_category_idx ON %[1]s (category) WHERE NOT retired`, documentsTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_region_idx ON %[1]s (region) WHERE NOT retired`, documentsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			job        TEXT PRIMARY KEY,
			last_id    BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, checkpointsTable),
	}
}

// documentColumns is the column list every read selects, in scan order.
const documentColumns = `id, policy_name, source_filename, full_text, region, category, deadline,
	summary, operation_period, application_period, support_scale, support_content, last_modified,
	policy_number, views, scraps, tags, eligibility, application_info, additional_info,
	required_documents, embedding, storage_ref, content_hash, created_at, updated_at, retired`
