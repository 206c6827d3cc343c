// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/listingrisk/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db          *sql.DB
	driver      string
	modelRetain int
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	retain := cfg.ModelRetain
	if retain < 0 {
		retain = 0
	}

	repo := &SQLRepository{
		db:          db,
		driver:      cfg.Driver,
		modelRetain: retain,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

const listingColumns = `
	id, owner_id, owner_trust_score, title, description,
	price, bedrooms, bathrooms, floor_area, location, amenities, year_built,
	verification_status, flagged_fraud, ai_verification_results,
	created_at, updated_at
`

// SaveListing inserts a listing or replaces the stored copy.
func (r *SQLRepository) SaveListing(ctx context.Context, l *domain.Listing) error {
	if l == nil || l.ID == "" {
		return fmt.Errorf("%w: listing id is required", ErrInvalidInput)
	}
	if l.OwnerID == "" {
		return fmt.Errorf("%w: ownerId is required", ErrInvalidInput)
	}

	amenities, err := json.Marshal(nonNil(l.Amenities))
	if err != nil {
		return fmt.Errorf("failed to encode amenities: %w", err)
	}

	var trust sql.NullFloat64
	if l.OwnerTrustScore != nil {
		trust = sql.NullFloat64{Float64: *l.OwnerTrustScore, Valid: true}
	}

	now := time.Now().UTC()
	created := l.CreatedAt.UTC()
	if l.CreatedAt.IsZero() {
		created = now
	}
	updated := l.UpdatedAt.UTC()
	if l.UpdatedAt.IsZero() {
		updated = created
	}

	query := `
		INSERT INTO listings (` + listingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			owner_id = excluded.owner_id,
			owner_trust_score = excluded.owner_trust_score,
			title = excluded.title,
			description = excluded.description,
			price = excluded.price,
			bedrooms = excluded.bedrooms,
			bathrooms = excluded.bathrooms,
			floor_area = excluded.floor_area,
			location = excluded.location,
			amenities = excluded.amenities,
			year_built = excluded.year_built,
			verification_status = excluded.verification_status,
			flagged_fraud = excluded.flagged_fraud,
			ai_verification_results = excluded.ai_verification_results,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		l.ID, l.OwnerID, trust, l.Title, l.Description,
		l.Price, l.Bedrooms, l.Bathrooms, l.FloorArea, l.Location, string(amenities), l.YearBuilt,
		string(l.Status()), boolToInt(l.FlaggedFraud), nullRaw(l.AIVerificationResults),
		created, updated,
	)
	return err
}

// GetListing retrieves a listing by ID.
func (r *SQLRepository) GetListing(ctx context.Context, listingID string) (*domain.Listing, error) {
	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = ?`

	l, err := scanListing(r.db.QueryRowContext(ctx, r.rebind(query), listingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ListListings returns the most recently created listings, newest first.
func (r *SQLRepository) ListListings(ctx context.Context, limit int) ([]*domain.Listing, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + listingColumns + ` FROM listings ORDER BY created_at DESC, id LIMIT ?`
	return r.queryListings(ctx, r.rebind(query), limit)
}

// ListAllListings returns every stored listing ordered by ID.
func (r *SQLRepository) ListAllListings(ctx context.Context) ([]*domain.Listing, error) {
	return r.queryListings(ctx, `SELECT `+listingColumns+` FROM listings ORDER BY id`)
}

func (r *SQLRepository) queryListings(ctx context.Context, query string, args ...any) ([]*domain.Listing, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []*domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, l)
	}

	return listings, rows.Err()
}

// CountListingsByOwner counts listings created by ownerID at or after since.
func (r *SQLRepository) CountListingsByOwner(ctx context.Context, ownerID string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM listings WHERE owner_id = ? AND created_at >= ?`

	var count int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), ownerID, since.UTC()).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateListingStatus writes a resolved verification status back to the listing.
// A nil aiResults leaves the stored verification payload untouched.
func (r *SQLRepository) UpdateListingStatus(ctx context.Context, listingID string, status domain.VerificationStatus, aiResults json.RawMessage) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown verification status %q", ErrInvalidInput, status)
	}

	now := time.Now().UTC()

	var res sql.Result
	var err error
	if aiResults == nil {
		query := `UPDATE listings SET verification_status = ?, updated_at = ? WHERE id = ?`
		res, err = r.db.ExecContext(ctx, r.rebind(query), string(status), now, listingID)
	} else {
		query := `UPDATE listings SET verification_status = ?, ai_verification_results = ?, updated_at = ? WHERE id = ?`
		res, err = r.db.ExecContext(ctx, r.rebind(query), string(status), string(aiResults), now, listingID)
	}
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveAssessment stores a risk assessment.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode assessment: %w", err)
	}

	query := `
		INSERT INTO assessments (
			id, listing_id, risk_score, suspicious_score, risk_tier, is_fraud, timestamp, payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.ListingID, a.RiskScore, a.SuspiciousScore,
		string(a.RiskTier), boolToInt(a.IsFraud), a.Timestamp.UTC(), string(payload),
	)
	return err
}

// GetAssessment retrieves a risk assessment by ID.
func (r *SQLRepository) GetAssessment(ctx context.Context, assessmentID string) (*domain.RiskAssessment, error) {
	query := `SELECT payload FROM assessments WHERE id = ?`

	var payload string
	err := r.db.QueryRowContext(ctx, r.rebind(query), assessmentID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var a domain.RiskAssessment
	if err := json.Unmarshal([]byte(payload), &a); err != nil {
		return nil, fmt.Errorf("failed to decode assessment %s: %w", assessmentID, err)
	}
	return &a, nil
}

// SaveTrainingExample stores the labeled example for a listing, replacing
// any earlier example for the same listing.
func (r *SQLRepository) SaveTrainingExample(ctx context.Context, ex *domain.TrainingExample) error {
	if ex == nil || ex.ListingID == "" {
		return fmt.Errorf("%w: listingId is required", ErrInvalidInput)
	}
	if len(ex.Features) != domain.FeatureCount {
		return fmt.Errorf("%w: expected %d features, got %d", ErrInvalidInput, domain.FeatureCount, len(ex.Features))
	}

	features, err := json.Marshal(ex.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	created := ex.CreatedAt.UTC()
	if ex.CreatedAt.IsZero() {
		created = time.Now().UTC()
	}

	query := `
		INSERT INTO training_examples (
			listing_id, features, is_fraud, risk_score, verification_status,
			authenticity, completeness, consistency, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(listing_id) DO UPDATE SET
			features = excluded.features,
			is_fraud = excluded.is_fraud,
			risk_score = excluded.risk_score,
			verification_status = excluded.verification_status,
			authenticity = excluded.authenticity,
			completeness = excluded.completeness,
			consistency = excluded.consistency,
			created_at = excluded.created_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		ex.ListingID, string(features), boolToInt(ex.IsFraud), ex.RiskScore, ex.VerificationStatus,
		ex.DocumentScores.Authenticity, ex.DocumentScores.Completeness, ex.DocumentScores.Consistency,
		created,
	)
	return err
}

// ListTrainingExamples returns the full dataset ordered by listing ID, so a
// seeded shuffle sees the same input order on every run.
func (r *SQLRepository) ListTrainingExamples(ctx context.Context) ([]*domain.TrainingExample, error) {
	query := `
		SELECT listing_id, features, is_fraud, risk_score, verification_status,
			   authenticity, completeness, consistency, created_at
		FROM training_examples
		ORDER BY listing_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var examples []*domain.TrainingExample
	for rows.Next() {
		var ex domain.TrainingExample
		var features string
		var isFraud int

		if err := rows.Scan(
			&ex.ListingID, &features, &isFraud, &ex.RiskScore, &ex.VerificationStatus,
			&ex.DocumentScores.Authenticity, &ex.DocumentScores.Completeness, &ex.DocumentScores.Consistency,
			&ex.CreatedAt,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal([]byte(features), &ex.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features for %s: %w", ex.ListingID, err)
		}
		ex.IsFraud = isFraud == 1
		examples = append(examples, &ex)
	}

	return examples, rows.Err()
}

// SaveRuleConfig stores a rule configuration.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	bands, _ := json.Marshal(rule.Bands)

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description,
		rule.Version, rule.Expression, string(bands), rule.Weight, boolToInt(rule.Enabled),
		now, now,
	)
	return err
}

// GetRuleConfig retrieves the latest enabled version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	cfg, err := scanRuleConfig(r.db.QueryRowContext(ctx, r.rebind(query), ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListRuleConfigs retrieves all enabled rule configurations.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRuleConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(row rowScanner) (*domain.Listing, error) {
	var l domain.Listing
	var trust sql.NullFloat64
	var title, description, aiResults sql.NullString
	var amenities, status string
	var flagged int

	if err := row.Scan(
		&l.ID, &l.OwnerID, &trust, &title, &description,
		&l.Price, &l.Bedrooms, &l.Bathrooms, &l.FloorArea, &l.Location, &amenities, &l.YearBuilt,
		&status, &flagged, &aiResults,
		&l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if trust.Valid {
		v := trust.Float64
		l.OwnerTrustScore = &v
	}
	l.Title = title.String
	l.Description = description.String
	l.VerificationStatus = domain.VerificationStatus(status)
	l.FlaggedFraud = flagged == 1
	if aiResults.Valid && aiResults.String != "" {
		l.AIVerificationResults = json.RawMessage(aiResults.String)
	}
	if err := json.Unmarshal([]byte(amenities), &l.Amenities); err != nil {
		return nil, fmt.Errorf("failed to decode amenities for %s: %w", l.ID, err)
	}

	return &l, nil
}

func scanRuleConfig(row rowScanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var description sql.NullString
	var bands string
	var enabled int

	if err := row.Scan(
		&cfg.ID, &cfg.Name, &description,
		&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
	); err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Enabled = enabled == 1
	json.Unmarshal([]byte(bands), &cfg.Bands)

	return &cfg, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullRaw(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
