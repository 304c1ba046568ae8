package domain

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapAmountJSON(t *testing.T) {
	var legacy CapAmount
	require.NoError(t, json.Unmarshal([]byte(`"1000"`), &legacy))
	v, ok := legacy.For("ANY")
	require.True(t, ok)
	assert.Equal(t, "1000", v.String())

	var perDenom CapAmount
	require.NoError(t, json.Unmarshal([]byte(`{"USDC":"5000000","WETH":"1"}`), &perDenom))
	v, ok = perDenom.For("USDC")
	require.True(t, ok)
	assert.Equal(t, "5000000", v.String())
	_, ok = perDenom.For("DAI")
	assert.False(t, ok)
	assert.Equal(t, []string{"USDC", "WETH"}, perDenom.Denominations())

	out, err := json.Marshal(perDenom)
	require.NoError(t, err)
	assert.JSONEq(t, `{"USDC":"5000000","WETH":"1"}`, string(out))

	out, err = json.Marshal(LegacyCap(big.NewInt(7)))
	require.NoError(t, err)
	assert.Equal(t, `"7"`, string(out))
}

func TestCapAmountRejectsHuman(t *testing.T) {
	var c CapAmount
	assert.Error(t, json.Unmarshal([]byte(`"1.5"`), &c))
	assert.Error(t, json.Unmarshal([]byte(`{"USDC":"-1"}`), &c))
	assert.Error(t, json.Unmarshal([]byte(`12`), &c))
}

func TestPolicyAllowsAndPause(t *testing.T) {
	p := &Policy{Allowlist: []AllowEntry{{ChainID: 8453, To: "0x1111111111111111111111111111111111111111", Selector: "0xa9059cbb"}}}
	assert.True(t, p.Allows(8453, "0x1111111111111111111111111111111111111111", "0xa9059cbb"))
	assert.False(t, p.Allows(1, "0x1111111111111111111111111111111111111111", "0xa9059cbb"))
	assert.False(t, p.Allows(8453, "0x1111111111111111111111111111111111111111", "0x095ea7b3"))

	paused := p.WithPause(true)
	assert.True(t, paused.Pause)
	assert.False(t, p.Pause)
	assert.Equal(t, "BASE_USDC", p.DefaultDenom("BASE_USDC"))
}

func TestClaimsAllowed(t *testing.T) {
	var nilClaims *CustomClaims
	assert.False(t, nilClaims.Allowed(ScopeEvaluate))

	c := &CustomClaims{Scopes: map[string]bool{ScopeEvaluate: true}}
	assert.True(t, c.Allowed(ScopeEvaluate))
	assert.False(t, c.Allowed(ScopeAdmin))

	admin := &CustomClaims{Scopes: map[string]bool{ScopeAdmin: true}}
	assert.True(t, admin.Allowed(ScopeEvaluate))
}
