// Package dbtest opens isolated in-memory SQLite databases carrying the same
// tables as the goose migrations, for repository and service tests.
package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dispatchboard/dispatchboard-backend/pkg/db"
)

var schema = []string{
	`CREATE TABLE companies (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  full_name TEXT NOT NULL,
  push_enabled INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`,
	`CREATE TABLE company_members (
  id TEXT PRIMARY KEY,
  company_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  role TEXT NOT NULL,
  created_at DATETIME,
  UNIQUE (company_id, user_id)
);`,
	`CREATE TABLE vendors (
  id TEXT PRIMARY KEY,
  company_id TEXT NOT NULL,
  user_id TEXT,
  name TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE workers (
  id TEXT PRIMARY KEY,
  company_id TEXT NOT NULL,
  vendor_id TEXT,
  user_id TEXT,
  name TEXT NOT NULL,
  created_at DATETIME
);`,
	`CREATE TABLE teams (
  id TEXT PRIMARY KEY,
  company_id TEXT NOT NULL,
  name TEXT NOT NULL,
  team_head_id TEXT,
  created_at DATETIME
);`,
	`CREATE TABLE jobs (
  id TEXT PRIMARY KEY,
  company_id TEXT NOT NULL,
  title TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  deadline DATETIME,
  assigned_to_vendor_id TEXT,
  assigned_to_worker_id TEXT,
  assigned_to_team_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE job_tasks (
  id TEXT PRIMARY KEY,
  job_id TEXT NOT NULL,
  title TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  deadline DATETIME,
  assigned_to_vendor_id TEXT,
  assigned_to_worker_id TEXT,
  assigned_to_team_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE team_tasks (
  id TEXT PRIMARY KEY,
  job_id TEXT NOT NULL,
  title TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  deadline DATETIME,
  assigned_to_vendor_id TEXT,
  assigned_to_worker_id TEXT,
  assigned_to_team_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	`CREATE TABLE invoices (
  id TEXT PRIMARY KEY,
  company_id TEXT NOT NULL,
  job_id TEXT NOT NULL,
  vendor_id TEXT,
  amount_cents INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME
);`,
	`CREATE TABLE activity_records (
  id TEXT PRIMARY KEY,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  company_id TEXT,
  sequence INTEGER NOT NULL,
  action_type TEXT NOT NULL,
  actor_user_id TEXT NOT NULL,
  recipient_user_id TEXT,
  notes TEXT,
  old_value TEXT,
  new_value TEXT,
  payload BLOB,
  notification_type TEXT NOT NULL,
  deadline_notified INTEGER NOT NULL DEFAULT 0,
  is_read INTEGER NOT NULL DEFAULT 0,
  read_at DATETIME,
  in_reply_to TEXT,
  dedupe_key TEXT UNIQUE,
  created_at DATETIME NOT NULL,
  UNIQUE (entity_type, entity_id, sequence)
);`,
	`CREATE TABLE chat_rooms (
  id TEXT PRIMARY KEY,
  company_id TEXT NOT NULL,
  entity_type TEXT NOT NULL,
  entity_id TEXT NOT NULL,
  room_type TEXT NOT NULL,
  pair_key TEXT NOT NULL DEFAULT '',
  name TEXT NOT NULL,
  created_by TEXT,
  created_at DATETIME NOT NULL,
  UNIQUE (entity_type, entity_id, room_type, pair_key)
);`,
	`CREATE TABLE chat_participants (
  id TEXT PRIMARY KEY,
  room_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  joined_at DATETIME NOT NULL,
  UNIQUE (room_id, user_id)
);`,
	`CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload BLOB NOT NULL,
  created_at DATETIME NOT NULL,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`,
	`CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json BLOB NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME NOT NULL
);`,
}

// Open returns a gorm handle on a fresh in-memory database with the full schema.
// Each call gets its own database so tests never share rows.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}

// OpenClient wraps Open in a *db.Client so services can run real transactions.
func OpenClient(t *testing.T) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.Wrap(conn), conn
}
