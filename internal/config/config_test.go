package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"agentpay/pkg/payerr"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AGENTPAY_STORAGE", "")
	t.Setenv("AGENTPAY_REDIS_URL", "")
	t.Setenv("AGENTPAY_LOG_LEVEL", "")
	t.Setenv("AGENTPAY_ENV", "")
	t.Setenv("AGENTPAY_NETWORK", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StorageMemory, cfg.Storage)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "development", cfg.Env)
}

func TestRedisRequiresURL(t *testing.T) {
	t.Setenv("AGENTPAY_STORAGE", "redis")
	t.Setenv("AGENTPAY_REDIS_URL", "")

	_, err := Load()
	require.Equal(t, payerr.KindConfiguration, payerr.KindOf(err))

	t.Setenv("AGENTPAY_REDIS_URL", "redis://localhost:6379/0")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StorageRedis, cfg.Storage)
}

func TestUnknownStorageRejected(t *testing.T) {
	t.Setenv("AGENTPAY_STORAGE", "etcd")
	_, err := Load()
	require.Equal(t, payerr.KindConfiguration, payerr.KindOf(err))
}

func TestUnknownNetworkRejected(t *testing.T) {
	t.Setenv("AGENTPAY_STORAGE", "memory")
	t.Setenv("AGENTPAY_NETWORK", "DOGE")
	_, err := Load()
	require.Equal(t, payerr.KindConfiguration, payerr.KindOf(err))

	t.Setenv("AGENTPAY_NETWORK", "BASE-SEPOLIA")
	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.Network.IsTestnet())
}
