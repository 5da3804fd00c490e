// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

// Package readiness waits until a relational store accepts authenticated
// connections.
package readiness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/meltinfra/bootstrap/pace"
	"github.com/meltinfra/bootstrap/secret"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"
)

// ErrStoreNotReady is returned when the store did not become ready within
// the retry policy.
var ErrStoreNotReady = errors.New("store not ready")

// StoreConfig describes how to reach the store. Password is only a reference;
// it is resolved right before connecting.
type StoreConfig struct {
	Host     string     `json:"host"`
	Port     int        `json:"port"`
	Database string     `json:"database"`
	Username string     `json:"username"`
	Password secret.Ref `json:"password"`
	SSLMode  string     `json:"sslMode,omitempty"`
}

// Addr returns host:port.
func (sc StoreConfig) Addr() string {
	return net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port))
}

// Checker opens a connection and verifies it works.
type Checker interface {
	Check(ctx context.Context, cfg StoreConfig, password secret.Value) error
}

// PostgresChecker checks PostgreSQL readiness using lib/pq.
type PostgresChecker struct {
	ConnectTimeout time.Duration
}

// Check connects to the database and pings it. Connection is closed before
// returning.
func (pc PostgresChecker) Check(
	ctx context.Context, cfg StoreConfig, password secret.Value,
) error {
	db, err := sql.Open("postgres", PostgresDSN(cfg, password, pc.ConnectTimeout))
	if err != nil {
		return fmt.Errorf("cannot open connection to %s: %w", cfg.Addr(), err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping %s/%s: %w", cfg.Addr(), cfg.Database, err)
	}
	return nil
}

// PostgresDSN builds connection URL for lib/pq. The result contains the
// password and must not be logged.
func PostgresDSN(cfg StoreConfig, password secret.Value, timeout time.Duration) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	if timeout > 0 {
		secs := int(timeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.Username, password.Reveal()),
		Host:     cfg.Addr(),
		Path:     "/" + cfg.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// WaitForStoreReady resolves the password and then checks the store until it
// succeeds or the policy is exhausted. Secret resolution failure is not
// retried.
func WaitForStoreReady(
	ctx context.Context, checker Checker, cfg StoreConfig,
	secrets secret.Resolver, policy pace.RetryPolicy, logger *zerolog.Logger,
) error {
	if logger == nil {
		logger = &log.Logger
	}
	start := time.Now()
	if secrets == nil {
		return fmt.Errorf("no secret resolver for %s", cfg.Password)
	}
	password, err := secrets.Resolve(ctx, cfg.Password)
	if err != nil {
		return fmt.Errorf("cannot resolve store password %s: %w", cfg.Password, err)
	}
	err = pace.Retry(ctx, policy, func(attempt int) error {
		return checker.Check(ctx, cfg, password)
	}, func(attempt int, wait time.Duration, err error) {
		logger.Warn().Str("addr", cfg.Addr()).Str("database", cfg.Database).
			Int("attempt", attempt).Dur("wait", wait).Err(err).
			Msg("Store is not ready yet")
	})
	if err != nil {
		logger.Error().Str("addr", cfg.Addr()).Dur("duration", time.Since(start)).
			Err(err).Msg("Store did not become ready")
		return fmt.Errorf("%w: %s: %w", ErrStoreNotReady, cfg.Addr(), err)
	}
	logger.Info().Str("addr", cfg.Addr()).Str("database", cfg.Database).
		Dur("duration", time.Since(start)).Msg("Store is ready")
	return nil
}
