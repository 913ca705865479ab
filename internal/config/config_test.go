package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_HOLDER", "0xabc")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0xabc", cfg.Session.Holder)
	assert.Equal(t, 30*time.Second, cfg.Signer.SignatureTimeout)
	assert.Equal(t, 3*time.Second, cfg.Reconcile.Interval)
	assert.Equal(t, 60, cfg.Reconcile.MaxAttempts)
	assert.Equal(t, 180*time.Second, cfg.Reconcile.ReconcileBound())
	assert.Equal(t, time.Second, cfg.Realtime.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Realtime.MaxDelay)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Address())
	assert.Nil(t, cfg.App.Keys())
}

func TestLoad_MissingHolder(t *testing.T) {
	t.Setenv("SESSION_HOLDER", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsBadBackoff(t *testing.T) {
	t.Setenv("SESSION_HOLDER", "0xabc")
	t.Setenv("REALTIME_BACKOFF_BASE", "10s")
	t.Setenv("REALTIME_BACKOFF_CAP", "1s")

	_, err := Load()
	assert.ErrorContains(t, err, "REALTIME_BACKOFF_CAP")
}

func TestLoad_RejectsUnknownJournal(t *testing.T) {
	t.Setenv("SESSION_HOLDER", "0xabc")
	t.Setenv("JOURNAL_DB_TYPE", "mongodb")

	_, err := Load()
	assert.ErrorContains(t, err, "JOURNAL_DB_TYPE")
}

func TestAppConfig_Keys(t *testing.T) {
	a := AppConfig{APIKeys: " one, ,two "}
	assert.Equal(t, []string{"one", "two"}, a.Keys())
}

func TestJournalConfig_MySQLDSN(t *testing.T) {
	j := JournalConfig{User: "u", Password: "p", Host: "db", Port: 3306, Name: "j"}
	assert.Equal(t, "u:p@tcp(db:3306)/j?parseTime=true", j.MySQLDSN())
}
