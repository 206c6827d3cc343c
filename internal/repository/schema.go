package repository

// Schema definitions, compatible with both SQLite and PostgreSQL.

const schemaListings = `
CREATE TABLE IF NOT EXISTS listings (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    owner_trust_score DOUBLE PRECISION,
    title TEXT,
    description TEXT,
    price DOUBLE PRECISION NOT NULL DEFAULT 0,
    bedrooms DOUBLE PRECISION NOT NULL DEFAULT 0,
    bathrooms DOUBLE PRECISION NOT NULL DEFAULT 0,
    floor_area DOUBLE PRECISION NOT NULL DEFAULT 0,
    location TEXT NOT NULL,
    amenities TEXT NOT NULL,
    year_built INTEGER NOT NULL DEFAULT 0,
    verification_status TEXT NOT NULL,
    flagged_fraud INTEGER NOT NULL DEFAULT 0,
    ai_verification_results TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_owner ON listings(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_listings_status ON listings(verification_status);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    listing_id TEXT NOT NULL,
    risk_score DOUBLE PRECISION NOT NULL,
    suspicious_score DOUBLE PRECISION NOT NULL,
    risk_tier TEXT NOT NULL,
    is_fraud INTEGER NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_listing ON assessments(listing_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_assessments_tier ON assessments(risk_tier);
`

const schemaTrainingExamples = `
CREATE TABLE IF NOT EXISTS training_examples (
    listing_id TEXT PRIMARY KEY,
    features TEXT NOT NULL,
    is_fraud INTEGER NOT NULL,
    risk_score DOUBLE PRECISION NOT NULL,
    verification_status TEXT NOT NULL,
    authenticity DOUBLE PRECISION NOT NULL,
    completeness DOUBLE PRECISION NOT NULL,
    consistency DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// schemaClassifierModels keeps model generations; exactly one row has is_current = 1.
// trained_at is fixed-width UTC text so it orders lexically.
const schemaClassifierModels = `
CREATE TABLE IF NOT EXISTS classifier_models (
    model_key TEXT PRIMARY KEY,
    id TEXT NOT NULL,
    version TEXT NOT NULL,
    trained_at TEXT NOT NULL,
    is_current INTEGER NOT NULL DEFAULT 0,
    payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_classifier_models_current ON classifier_models(is_current, trained_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaListings,
		schemaAssessments,
		schemaTrainingExamples,
		schemaRuleConfigs,
		schemaClassifierModels,
	}
}
