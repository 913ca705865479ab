package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const mysqlSchema = `
CREATE TABLE IF NOT EXISTS action_events (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	action_id VARCHAR(64) NOT NULL,
	item_id VARCHAR(128) NOT NULL,
	kind VARCHAR(16) NOT NULL,
	phase VARCHAR(32) NOT NULL,
	event VARCHAR(32) NOT NULL,
	reason VARCHAR(64) NOT NULL DEFAULT '',
	handle VARCHAR(128) NOT NULL DEFAULT '',
	created_at BIGINT NOT NULL,
	INDEX idx_action_events_item (item_id),
	INDEX idx_action_events_action (action_id),
	INDEX idx_action_events_created (created_at)
)`

// NewMySQLJournal connects to MySQL and ensures the journal table exists.
func NewMySQLJournal(dsn string) (JournalRepository, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, mysqlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal table: %w", err)
	}
	return &sqlJournal{db: db, name: "mysql"}, nil
}
