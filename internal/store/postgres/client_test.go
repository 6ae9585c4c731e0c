package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://app:secret@db:5432/settle?sslmode=disable",
		DSN(ClientConfig{Host: "db", Database: "settle", User: "app", Password: "secret"}))
	assert.Equal(t, "postgres://x@y/z",
		DSN(ClientConfig{DSN: "postgres://x@y/z", Host: "ignored"}))
}

func TestApplyPoolConfigSizesForWorkers(t *testing.T) {
	poolCfg, err := pgxpool.ParseConfig("postgres://app@localhost:5432/settle")
	require.NoError(t, err)

	applyPoolConfig(poolCfg, ClientConfig{
		MaxConns:         2,
		MinConns:         50,
		Workers:          8,
		StatementTimeout: 30 * time.Second,
		LockTimeout:      5 * time.Second,
	})

	assert.Equal(t, int32(8+reservedConns), poolCfg.MaxConns)
	assert.Equal(t, poolCfg.MaxConns, poolCfg.MinConns)
	params := poolCfg.ConnConfig.RuntimeParams
	assert.Equal(t, applicationName, params["application_name"])
	assert.Equal(t, "30000", params["statement_timeout"])
	assert.Equal(t, "5000", params["lock_timeout"])
}

func TestApplyPoolConfigKeepsExplicitSettings(t *testing.T) {
	poolCfg, err := pgxpool.ParseConfig("postgres://app@localhost:5432/settle?application_name=ops")
	require.NoError(t, err)

	applyPoolConfig(poolCfg, ClientConfig{MaxConns: 30, Workers: 2})

	assert.Equal(t, int32(30), poolCfg.MaxConns)
	assert.Equal(t, "ops", poolCfg.ConnConfig.RuntimeParams["application_name"])
	assert.NotContains(t, poolCfg.ConnConfig.RuntimeParams, "statement_timeout")
}

func TestPendingMigrations(t *testing.T) {
	pending, err := pendingMigrations(nil)
	require.NoError(t, err)
	require.NotEmpty(t, pending)
	assert.Equal(t, "001_init.sql", pending[0])
	assert.IsNonDecreasing(t, pending)

	applied := make(map[string]bool)
	for _, name := range pending {
		applied[name] = true
	}
	pending, err = pendingMigrations(applied)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
