package repository

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/opensource-finance/listingrisk/internal/domain"
	_ "github.com/lib/pq"
)

// openPostgres opens the pro-tier listing store.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}

// postgresDSN builds a key/value connection string. Empty credentials are
// omitted so lib/pq falls back to its environment defaults.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "listingrisk"
	}

	parts := []string{
		fmt.Sprintf("host=%s", host),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("dbname=%s", dbname),
		fmt.Sprintf("sslmode=%s", getSSLMode(cfg.PostgresSSLMode)),
	}
	if cfg.PostgresUser != "" {
		parts = append(parts, fmt.Sprintf("user=%s", cfg.PostgresUser))
	}
	if cfg.PostgresPassword != "" {
		parts = append(parts, fmt.Sprintf("password='%s'", pqQuote.Replace(cfg.PostgresPassword)))
	}
	return strings.Join(parts, " ")
}

var pqQuote = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func getSSLMode(mode string) string {
	if mode == "" {
		return "disable"
	}
	return mode
}
