// Package dbtest starts a throwaway Postgres for package tests.
package dbtest

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"market-chat/internal/db"
)

// Start runs a migrated postgres:16-alpine container. The returned stop
// function closes the pool and terminates the container.
func Start(ctx context.Context) (*sqlx.DB, func(), error) {
	conn, _, stop, err := StartWithDSN(ctx)
	return conn, stop, err
}

// StartWithDSN is Start that also returns the connection string, for
// components that open their own connections such as pq.Listener.
func StartWithDSN(ctx context.Context) (*sqlx.DB, string, func(), error) {
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("market_chat"),
		postgres.WithUsername("chat_user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		return nil, "", nil, fmt.Errorf("start container: %w", err)
	}
	terminate := func() {
		if err := container.Terminate(ctx); err != nil {
			log.Printf("failed to terminate container: %v", err)
		}
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		return nil, "", nil, fmt.Errorf("connection string: %w", err)
	}
	conn, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		terminate()
		return nil, "", nil, fmt.Errorf("connect: %w", err)
	}
	if err := db.Migrate(ctx, conn); err != nil {
		conn.Close()
		terminate()
		return nil, "", nil, fmt.Errorf("migrate: %w", err)
	}

	return conn, dsn, func() {
		conn.Close()
		terminate()
	}, nil
}

// Truncate empties every chat table.
func Truncate(conn *sqlx.DB) error {
	_, err := conn.Exec(`TRUNCATE messages, participants, conversations, profiles`)
	return err
}
