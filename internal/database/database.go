package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/karwadev/bannerbot/internal/config"
)

// Connect opens the MySQL connection with sensible pooling defaults.
func Connect(cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetConnMaxLifetime(time.Minute * 5)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	return db, nil
}

// Migrate runs the bootstrap schema and seeds the owner record. The owner row
// is written once; re-running migration never flips ownership.
func Migrate(ctx context.Context, db *sql.DB, cfg config.Config) error {
	for _, stmt := range statements(schema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	const seedOwner = `
INSERT IGNORE INTO users (user_id, username, is_owner, authorized, authorized_at, added_by_user_id)
VALUES (?, NULLIF(?, ''), 1, 1, NOW(), ?)`
	if _, err := db.ExecContext(ctx, seedOwner, cfg.OwnerUserID, cfg.OwnerUsername, cfg.OwnerUserID); err != nil {
		return fmt.Errorf("seed owner: %w", err)
	}
	return nil
}

// statements splits the schema on statement terminators. None of the DDL here
// embeds a literal semicolon, so a plain split is safe and keeps formatting
// changes in the schema const from merging statements.
func statements(schema string) []string {
	var stmts []string
	for _, stmt := range strings.Split(schema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
