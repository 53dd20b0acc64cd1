package db

import (
	"context"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// MySQLConfig holds the connection settings for MySQL.
type MySQLConfig struct {
	// DSN wins over the discrete fields when set.
	DSN      string `yaml:"dsn"`
	Addr     string `yaml:"addr"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	MaxOpenConnections int           `yaml:"maxOpenConnections"`
	MaxIdleConnections int           `yaml:"maxIdleConnections"`
	ConnMaxLifetime    time.Duration `yaml:"connMaxLifetime"`
}

// DefaultMySQLConfig returns the default MySQL configuration
func DefaultMySQLConfig() *MySQLConfig {
	return &MySQLConfig{
		MaxOpenConnections: 25,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    5 * time.Minute,
	}
}

// FormatDSN returns the data source name. Times are parsed into UTC.
func (c *MySQLConfig) FormatDSN() (string, error) {
	if c.DSN != "" {
		parsed, err := mysql.ParseDSN(c.DSN)
		if err != nil {
			return "", fmt.Errorf("invalid mysql dsn: %w", err)
		}
		parsed.ParseTime = true
		return parsed.FormatDSN(), nil
	}
	if c.Addr == "" || c.Database == "" {
		return "", fmt.Errorf("mysql addr and database are required")
	}
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = c.Addr
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.DBName = c.Database
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN(), nil
}

// NewMySQLConn opens a pooled go-zero connection and verifies it.
func NewMySQLConn(ctx context.Context, c *MySQLConfig) (sqlx.SqlConn, error) {
	if c == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	dsn, err := c.FormatDSN()
	if err != nil {
		return nil, err
	}
	conn := sqlx.NewMysql(dsn)
	raw, err := conn.RawDB()
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if c.MaxOpenConnections > 0 {
		raw.SetMaxOpenConns(c.MaxOpenConnections)
	}
	if c.MaxIdleConnections > 0 {
		raw.SetMaxIdleConns(c.MaxIdleConnections)
	}
	if c.ConnMaxLifetime > 0 {
		raw.SetConnMaxLifetime(c.ConnMaxLifetime)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := raw.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}
