// Package dbtest provides an in-memory SQLite store with the saasguard schema
// for package tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE clients (
		id BIGINT PRIMARY KEY,
		company_name TEXT NOT NULL,
		company_email TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE systems (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE subscription_plans (
		id BIGINT PRIMARY KEY,
		system_id BIGINT NOT NULL,
		name TEXT NOT NULL,
		max_activations INTEGER NOT NULL DEFAULT 1,
		pricing_details TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE client_subscriptions (
		id BIGINT PRIMARY KEY,
		client_id BIGINT NOT NULL,
		system_id BIGINT NOT NULL,
		plan_id BIGINT NOT NULL,
		api_key TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL,
		max_activations INTEGER,
		device_count INTEGER NOT NULL DEFAULT 0,
		activation_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE usage_records (
		id BIGINT PRIMARY KEY,
		client_id BIGINT NOT NULL,
		system_id BIGINT NOT NULL,
		metric TEXT NOT NULL,
		quantity DECIMAL(20,4) NOT NULL,
		metadata TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE INDEX idx_usage_records_window ON usage_records (client_id, system_id, metric, created_at)`,
	`CREATE TABLE usage_limits (
		id BIGINT PRIMARY KEY,
		client_id BIGINT NOT NULL,
		system_id BIGINT NOT NULL,
		metric TEXT NOT NULL,
		limit_value DECIMAL(20,4) NOT NULL,
		current_usage DECIMAL(20,4) NOT NULL DEFAULT 0,
		reset_period TEXT NOT NULL,
		last_reset_at DATETIME,
		last_updated_at DATETIME,
		created_at DATETIME NOT NULL,
		UNIQUE (client_id, system_id, metric)
	)`,
	`CREATE TABLE device_activations (
		id BIGINT PRIMARY KEY,
		subscription_id BIGINT NOT NULL,
		device_fingerprint TEXT NOT NULL,
		device_name TEXT NOT NULL,
		device_info TEXT,
		status TEXT NOT NULL,
		ip_address TEXT,
		details TEXT,
		first_activated DATETIME NOT NULL,
		last_seen DATETIME,
		reviewed_by TEXT,
		reviewed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE INDEX idx_device_activations_sub ON device_activations (subscription_id, device_fingerprint, status)`,
	`CREATE TABLE security_alerts (
		id BIGINT PRIMARY KEY,
		subscription_id BIGINT NOT NULL,
		alert_type TEXT NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		details TEXT,
		device_fingerprint TEXT,
		ip_address TEXT,
		action_taken TEXT,
		resolution_notes TEXT,
		reviewed_by TEXT,
		reviewed_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE email_templates (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		subject TEXT NOT NULL,
		body_html TEXT NOT NULL,
		body_text TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE email_logs (
		id BIGINT PRIMARY KEY,
		template_name TEXT NOT NULL,
		recipient_email TEXT NOT NULL,
		subject TEXT NOT NULL,
		status TEXT NOT NULL,
		error_message TEXT,
		sent_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
}

// Open returns a fresh in-memory database named after the test with the full
// schema applied. A single connection keeps the shared-cache database alive
// and serializes writers.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	_ = conn.Exec("PRAGMA busy_timeout = 5000").Error
	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return conn
}

// Node returns a snowflake node for fixture ids.
func Node(t testing.TB) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	return node
}

// Fixture describes a client subscribed to one system.
type Fixture struct {
	ClientID       snowflake.ID
	SystemID       snowflake.ID
	PlanID         snowflake.ID
	SubscriptionID snowflake.ID
	APIKey         string
}

type SubscriptionOptions struct {
	MaxActivations int
	CompanyEmail   string
	PricingDetails string
	Status         string
}

// SeedSubscription inserts a client, system, plan and active subscription.
func SeedSubscription(t testing.TB, conn *gorm.DB, node *snowflake.Node, opts SubscriptionOptions) Fixture {
	t.Helper()

	if opts.MaxActivations == 0 {
		opts.MaxActivations = 1
	}
	if opts.CompanyEmail == "" {
		opts.CompanyEmail = "owner@acme.test"
	}
	if opts.Status == "" {
		opts.Status = "active"
	}
	now := time.Now().UTC()
	f := Fixture{
		ClientID:       node.Generate(),
		SystemID:       node.Generate(),
		PlanID:         node.Generate(),
		SubscriptionID: node.Generate(),
	}
	f.APIKey = "sk_" + f.SubscriptionID.String()

	stmts := []struct {
		sql  string
		args []any
	}{
		{`INSERT INTO clients (id, company_name, company_email, created_at) VALUES (?, ?, ?, ?)`,
			[]any{f.ClientID, "Acme Gym", opts.CompanyEmail, now}},
		{`INSERT INTO systems (id, name, created_at) VALUES (?, ?, ?)`,
			[]any{f.SystemID, "Gym Management", now}},
		{`INSERT INTO subscription_plans (id, system_id, name, max_activations, pricing_details, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{f.PlanID, f.SystemID, "Basic", opts.MaxActivations, nullable(opts.PricingDetails), now}},
		{`INSERT INTO client_subscriptions (id, client_id, system_id, plan_id, api_key, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			[]any{f.SubscriptionID, f.ClientID, f.SystemID, f.PlanID, f.APIKey, opts.Status, now, now}},
	}
	for _, stmt := range stmts {
		if err := conn.Exec(stmt.sql, stmt.args...).Error; err != nil {
			t.Fatalf("seed subscription: %v", err)
		}
	}
	return f
}

// CountRows runs a COUNT(*) with the given predicate.
func CountRows(t testing.TB, conn *gorm.DB, table, where string, args ...any) int64 {
	t.Helper()
	var count int64
	query := "SELECT COUNT(*) FROM " + table
	if where != "" {
		query += " WHERE " + where
	}
	if err := conn.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return count
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
