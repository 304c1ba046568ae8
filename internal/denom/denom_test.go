package denom

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

func TestResolveOrder(t *testing.T) {
	reg := Registry{"USDC": {Decimals: 6}, "BASE_USDC": {Decimals: 7}}
	legacy := map[string]domain.DenomInfo{"usdc": {Decimals: 2}, "FOO": {Decimals: 4}, "BASE_USDC": {Decimals: 9}}

	assert.Equal(t, 6, Resolve("usdc", legacy, reg).Decimals, "registry wins, symbol uppercased")
	assert.Equal(t, 4, Resolve("FOO", legacy, reg).Decimals, "legacy table next")
	assert.Equal(t, 7, Resolve("BASE_USDC", legacy, reg).Decimals)
	assert.Equal(t, 9, Resolve("BASE_USDC", legacy, nil).Decimals)

	base := Resolve("", nil, nil)
	assert.Equal(t, 6, base.Decimals)
	require.NotNil(t, base.ChainID)
	assert.Equal(t, int64(8453), *base.ChainID)

	assert.Equal(t, FallbackDecimals, Resolve("UNKNOWN", nil, nil).Decimals)
}

func TestReadRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tokens.json")
	body := `[
		{"symbol":" weth ","chain_id":8453,"decimals":18,"address":"0x4200000000000000000000000000000000000006"},
		{"symbol":"WETH","chain_id":1,"decimals":9},
		{"symbol":"USDC","decimals":6,"address":null},
		{"symbol":"","decimals":6},
		{"symbol":"BAD"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	reg, err := ReadRegistry(path)
	require.NoError(t, err)
	require.Len(t, reg, 2)
	assert.Equal(t, 18, reg["WETH"].Decimals, "first seen wins")
	assert.Equal(t, "0x4200000000000000000000000000000000000006", reg["WETH"].Address)
	assert.Equal(t, 6, reg["USDC"].Decimals)
}

func TestReadRegistryYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokens.yaml")
	body := "- symbol: dai\n  decimals: 18\n- symbol: wbtc\n  decimals: 8\n  chain_id: 1\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	reg, err := ReadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, 18, reg["DAI"].Decimals)
	assert.Equal(t, 8, reg["WBTC"].Decimals)
}

func TestLoadRegistryFallsBackToEmpty(t *testing.T) {
	reg := LoadRegistry(filepath.Join(t.TempDir(), "missing.json"), zap.NewNop())
	assert.Empty(t, reg)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))
	assert.Empty(t, LoadRegistry(bad, nil))
}

func TestRegistryPath(t *testing.T) {
	t.Setenv(EnvRegistryPath, "/etc/tokens.json")
	assert.Equal(t, "/x.json", RegistryPath("/x.json"))
	assert.Equal(t, "/etc/tokens.json", RegistryPath(""))

	t.Setenv(EnvRegistryPath, "")
	assert.Equal(t, DefaultRegistryPath, RegistryPath(""))
}
