package stepexec

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2" // register duckdb driver

	"duckflow/internal/config"
	"duckflow/internal/ddl"
)

// s3SecretName is the DuckDB secret used for s3:// reads and direct writes.
const s3SecretName = "duckflow_s3"

// OpenDuckDB opens the DuckDB database at path ("" for in-memory).
func OpenDuckDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping duckdb: %w", err)
	}
	return db, nil
}

// ConfigureS3 loads httpfs and registers an S3 secret so that steps can read
// s3:// paths directly. Safe to skip when S3 is not configured.
func ConfigureS3(ctx context.Context, db *sql.DB, cfg *config.Config) error {
	if !cfg.HasS3Config() {
		return nil
	}
	if _, err := db.ExecContext(ctx, "INSTALL httpfs; LOAD httpfs;"); err != nil {
		return fmt.Errorf("extension setup (httpfs): %w", err)
	}

	endpoint := *cfg.S3Endpoint
	if i := strings.Index(endpoint, "://"); i >= 0 {
		endpoint = endpoint[i+3:]
	}
	secretSQL, err := ddl.CreateS3Secret(s3SecretName, *cfg.S3KeyID, *cfg.S3Secret, endpoint, *cfg.S3Region, "path")
	if err != nil {
		return fmt.Errorf("build DDL: %w", err)
	}
	if _, err := db.ExecContext(ctx, secretSQL); err != nil {
		return fmt.Errorf("create S3 secret %q: %w", s3SecretName, err)
	}
	return nil
}
