package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const applicationName = "dunning-service"

type ConnectionInfo struct {
	Host     string
	Port     int
	Username string
	DBName   string
	SSLMode  string
	Password string

	// zero keeps the defaults below
	MaxOpenConns int
	MaxIdleConns int
}

// quote escapes a libpq keyword value.
func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// DSN renders the keyword/value connection string understood by pgx.
func (i ConnectionInfo) DSN() string {
	sslMode := i.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	parts := []string{
		"host=" + quote(i.Host),
		fmt.Sprintf("port=%d", i.Port),
		"user=" + quote(i.Username),
		"dbname=" + quote(i.DBName),
		"sslmode=" + sslMode,
		"application_name=" + applicationName,
		"connect_timeout=10",
	}
	if i.Password != "" {
		parts = append(parts, "password="+quote(i.Password))
	}
	return strings.Join(parts, " ")
}

func NewPostgresConnection(info ConnectionInfo) (*sql.DB, error) {
	db, err := sql.Open("pgx", info.DSN())
	if err != nil {
		return nil, err
	}

	maxOpen, maxIdle := info.MaxOpenConns, info.MaxIdleConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping %s:%d: %w", info.Host, info.Port, err)
	}

	return db, nil
}

func Close(db *sql.DB) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		zap.L().Error("postgres close failed", zap.Error(err))
	}
}
