package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "salesledger", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, "UTC", cfg.Ledger.Location)
	assert.Equal(t, 50, cfg.Ledger.DefaultPageSize)
	assert.True(t, cfg.Reconciliation.DefaultCommissionRate.Equal(decimal.RequireFromString("0.10")))
	assert.Equal(t, 3, cfg.Scheduler.DailyHour)
	assert.Equal(t, 30, cfg.Scheduler.WindowDays)
	assert.Equal(t, 45*time.Minute, cfg.Scheduler.LockTTL)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("LEDGER_DATABASE_HOST", "db.internal")
	t.Setenv("LEDGER_DATABASE_PORT", "5433")
	t.Setenv("LEDGER_LEDGER_LOCATION", "Europe/Moscow")
	t.Setenv("LEDGER_RECONCILIATION_DEFAULT_COMMISSION_RATE", "0.15")
	t.Setenv("LEDGER_SCHEDULER_DAILY_HOUR", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "Europe/Moscow", cfg.LedgerLocation().String())
	assert.Equal(t, "0.15", cfg.Reconciliation.DefaultCommissionRate.String())
	assert.Equal(t, 0, cfg.Scheduler.DailyHour)
}

func TestLoadFile_CommissionRates(t *testing.T) {
	path := writeConfig(t, `
[reconciliation]
default_commission_rate = "0.10"

[reconciliation.commission_rates]
OZON = "0.12"
wb = "0.18"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "0.12", cfg.Reconciliation.RateFor("OZON").String())
	assert.Equal(t, "0.18", cfg.Reconciliation.RateFor("WB").String())
	assert.Equal(t, "0.1", cfg.Reconciliation.RateFor("YM").String())
}

func TestLoadFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "rate not a number",
			body: "[reconciliation.commission_rates]\nozon = \"abc\"\n",
		},
		{
			name: "rate above one",
			body: "[reconciliation]\ndefault_commission_rate = \"1.5\"\n",
		},
		{
			name: "unknown location",
			body: "[ledger]\nlocation = \"Mars/Olympus\"\n",
		},
		{
			name: "offload without storage",
			body: "[raw_store]\ninline_limit_bytes = 1024\n",
		},
		{
			name: "storage without bucket",
			body: "[storage]\nenabled = true\n",
		},
		{
			name: "idle above open",
			body: "[database]\nmax_open_conns = 2\nmax_idle_conns = 5\n",
		},
		{
			name: "production without password",
			body: "[app]\nenv = \"production\"\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := DatabaseConfig{Host: "h", Port: 5432, User: "u", Password: "p@ss/word", DBName: "ledger", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%40ss%2Fword@h:5432/ledger?sslmode=disable", d.DSN())
}
