package ledgerd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stakeledger/native/revenue"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "auth:\n  hmac_secret: s3cret\n"))
	require.NoError(t, err)
	require.Equal(t, ":7090", cfg.ListenAddress)
	require.Equal(t, DriverMemory, cfg.Storage.Driver)
	require.Equal(t, DriverSQLite, cfg.Idempotency.Driver)
	require.NotEmpty(t, cfg.Idempotency.DSN)
	require.Equal(t, "ledger.admin", cfg.Auth.AdminScope)
	require.Equal(t, 30*24*time.Hour, cfg.Ledger.LockUnit.Duration)
	require.Equal(t, int64(30*24*60*60), cfg.Ledger.LockUnitSeconds())
	require.Equal(t, revenue.DefaultPercentages, cfg.Ledger.Percentages)
	require.False(t, cfg.Ledger.CarryRemainder)
}

func TestLoadConfigReadsSections(t *testing.T) {
	t.Setenv("LEDGERD_TEST_DSN", "file:ledger.db")
	secretFile := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(secretFile, []byte("from-file\n"), 0o600))

	cfg, err := LoadConfig(writeConfig(t, `
listen: ":9000"
pause: true
storage:
  driver: SQLite
  dsn_env: LEDGERD_TEST_DSN
auth:
  hmac_secret_file: `+secretFile+`
  issuer: ledger
  clock_skew: 30s
rate_limit:
  requests_per_minute: 120
  burst: 5
ledger:
  lock_unit: 1h
  carry_remainder: true
  percentages:
    prize: 30
    revenue: 50
    staking: 15
    burn: 5
`))
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.True(t, cfg.PauseOnStart)
	require.Equal(t, DriverSQLite, cfg.Storage.Driver)
	require.Equal(t, "file:ledger.db", cfg.Storage.DSN)
	require.Equal(t, "from-file", cfg.Auth.HMACSecret)
	require.Equal(t, 30*time.Second, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, 5, cfg.RateLimit.Burst)
	require.Equal(t, int64(3600), cfg.Ledger.LockUnitSeconds())
	require.True(t, cfg.Ledger.CarryRemainder)
	require.Equal(t, revenue.Percentages{Prize: 30, Revenue: 50, Staking: 15, Burn: 5}, cfg.Ledger.Percentages)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing secret":  "listen: \":1\"\n",
		"bad driver":      "auth:\n  hmac_secret: x\nstorage:\n  driver: redis\n",
		"leveldb path":    "auth:\n  hmac_secret: x\nstorage:\n  driver: leveldb\n",
		"bad percentages": "auth:\n  hmac_secret: x\nledger:\n  percentages:\n    prize: 90\n    burn: 20\n",
		"short lock unit": "auth:\n  hmac_secret: x\nledger:\n  lock_unit: 10ms\n",
		"bad duration":    "auth:\n  hmac_secret: x\n  clock_skew: soon\n",
		"unknown field":   "auth:\n  hmac_secret: x\nfrobnicate: true\n",
		"sample ratio":    "auth:\n  hmac_secret: x\ntelemetry:\n  sample_ratio: 2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigEmptySecretEnv(t *testing.T) {
	t.Setenv("LEDGERD_EMPTY_SECRET", "")
	_, err := LoadConfig(writeConfig(t, "auth:\n  hmac_secret_env: LEDGERD_EMPTY_SECRET\n"))
	require.ErrorContains(t, err, "is empty")
}
