package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.Addr())
	assert.Equal(t, int64(32<<20), cfg.Import.MaxUploadBytes)
	assert.Equal(t, 100000, cfg.Import.MaxRows)
	assert.Equal(t, time.Hour, cfg.Import.SessionTTL)
	assert.Zero(t, cfg.Import.DuplicateDateToleranceDays)
	assert.Nil(t, cfg.Import.DateFormats)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("IMPORT_MAX_UPLOAD_MB", "4")
	t.Setenv("IMPORT_SESSION_TTL", "15m")
	t.Setenv("IMPORT_ALLOW_EMPTY_COMMIT", "true")
	t.Setenv("POSTGRES_DB", "ledger")
	t.Setenv("IMPORT_DATE_FORMATS", "Jan 2, 2006; 02-Jan-2006")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, int64(4<<20), cfg.Import.MaxUploadBytes)
	assert.Equal(t, 15*time.Minute, cfg.Import.SessionTTL)
	assert.True(t, cfg.Import.AllowEmptyCommit)
	assert.Contains(t, cfg.Database.DSN(), "dbname=ledger")
	assert.Equal(t, []string{"Jan 2, 2006", "02-Jan-2006"}, cfg.Import.DateFormats)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")
	t.Setenv("IMPORT_SESSION_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, time.Hour, cfg.Import.SessionTTL)
}

func TestValidate(t *testing.T) {
	t.Setenv("IMPORT_DUPLICATE_MAX_EDIT_DISTANCE", "-1")
	t.Setenv("LOG_FORMAT", "xml")
	t.Setenv("IMPORT_MAX_ROWS", "0")
	t.Setenv("IMPORT_DATE_FORMATS", "2006-01-02;01/02")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate tolerances")
	assert.Contains(t, err.Error(), "LOG_FORMAT")
	assert.Contains(t, err.Error(), "IMPORT_MAX_ROWS")
	assert.Contains(t, err.Error(), `layout "01/02" has no year`)
}
