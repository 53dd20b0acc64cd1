package db

import (
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

func TestFormatDSN(t *testing.T) {
	t.Parallel()
	c := &MySQLConfig{Addr: "db:3306", User: "arena", Password: "p@ss", Database: "codearena"}
	dsn, err := c.FormatDSN()
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("parse %q: %v", dsn, err)
	}
	if parsed.Addr != "db:3306" || parsed.Passwd != "p@ss" || parsed.DBName != "codearena" || !parsed.ParseTime {
		t.Fatalf("unexpected dsn %q", dsn)
	}

	withDSN := &MySQLConfig{DSN: "arena:x@tcp(db:3306)/codearena"}
	dsn, err = withDSN.FormatDSN()
	if err != nil || !strings.Contains(dsn, "parseTime=true") {
		t.Fatalf("expected parseTime forced, got %q %v", dsn, err)
	}
	if _, err := (&MySQLConfig{Addr: "db:3306"}).FormatDSN(); err == nil {
		t.Fatalf("expected missing database to fail")
	}
}

func TestErrorHelpers(t *testing.T) {
	t.Parallel()
	if !IsNoRows(sql.ErrNoRows) || !IsNoRows(fmt.Errorf("wrapped: %w", sqlx.ErrNotFound)) {
		t.Fatalf("expected no-rows detection")
	}
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'x' for key 'submissions.PRIMARY'"}
	key, ok := UniqueViolation(fmt.Errorf("insert: %w", dup))
	if !ok || key != "submissions.PRIMARY" {
		t.Fatalf("unexpected duplicate key %q %v", key, ok)
	}
	if _, ok := UniqueViolation(&mysql.MySQLError{Number: 1045}); ok {
		t.Fatalf("expected other mysql errors to be ignored")
	}
}
