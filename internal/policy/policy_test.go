package policy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/xela07ax/spaceai-policy-runtime/internal/denom"
	"github.com/xela07ax/spaceai-policy-runtime/internal/domain"
)

const (
	target   = "0x1111111111111111111111111111111111111111"
	targetUC = "0x1111111111111111111111111111111111111ABC"
	transfer = "0xa9059cbb"
)

type PolicySuite struct {
	suite.Suite
}

func TestPolicySuite(t *testing.T) {
	suite.Run(t, new(PolicySuite))
}

func (s *PolicySuite) validationPaths(err error) []string {
	var verr *ValidationError
	s.Require().True(errors.As(err, &verr), "expected ValidationError, got %v", err)
	return verr.Paths()
}

func (s *PolicySuite) TestValidateCanonicalizesAllowlist() {
	doc, err := Validate([]byte(`{"allowlist":[{"chainId":8453,"to":"` + targetUC + `","selector":"0xA9059CBB"}]}`))
	s.Require().NoError(err)

	entry := doc["allowlist"].([]any)[0].(map[string]any)
	s.Equal("0x1111111111111111111111111111111111111abc", entry["to"])
	s.Equal(transfer, entry["selector"])
}

func (s *PolicySuite) TestValidateCollectsEveryViolation() {
	raw := `{
		"allowlist":[
			{"chainId":0,"to":"0x12","selector":"0xa9059cbb","extra":1},
			{"to":"` + target + `","selector":"nope"}
		],
		"caps":{
			"max_outflow_h1":"1.5",
			"max_outflow_d1":{"USDC":"-3"},
			"max_calls_per_function_h1":0,
			"per_target":{"w1":{}, "h1":{"x":12}}
		},
		"pause":"yes",
		"meta":{"nonce_max_gap":-1,"slippage_max_bps":1.5,"defaultDenomination":7}
	}`
	_, err := Validate([]byte(raw))
	s.Require().Error(err)
	s.ElementsMatch([]string{
		"/allowlist/0/chainId",
		"/allowlist/0/extra",
		"/allowlist/0/to",
		"/allowlist/1",
		"/allowlist/1/selector",
		"/caps/max_outflow_h1",
		"/caps/max_outflow_d1/USDC",
		"/caps/max_calls_per_function_h1",
		"/caps/per_target/h1/x",
		"/caps/per_target/w1",
		"/pause",
		"/meta/defaultDenomination",
		"/meta/nonce_max_gap",
		"/meta/slippage_max_bps",
	}, s.validationPaths(err))
	s.Contains(err.Error(), "policy schema invalid")
}

func (s *PolicySuite) TestValidateViolationMessages() {
	raw := `{"allowlist":[{"chainId":1,"to":"` + target + `","selector":"` + transfer + `","x":1}],"caps":{"max_outflow_h1":12}}`
	_, err := Validate([]byte(raw))
	var verr *ValidationError
	s.Require().ErrorAs(err, &verr)
	s.Equal([]string{"/allowlist/0/x", "/caps/max_outflow_h1"}, verr.Paths())
	for _, v := range verr.Violations {
		s.NotEmpty(v.Message, v.Path)
	}
	s.Equal("must NOT have additional properties", verr.Violations[0].Message)
}

func (s *PolicySuite) TestValidateRequiresAllowlist() {
	_, err := Validate([]byte(`{"caps":{}}`))
	s.Equal([]string{""}, s.validationPaths(err))

	_, err = Validate([]byte(`[1,2]`))
	s.Require().Error(err)

	_, err = Validate([]byte(`{not json`))
	s.Require().Error(err)
}

func (s *PolicySuite) TestNormalizeConvertsHumanLeaves() {
	raw := `{
		"allowlist":[{"chainId":8453,"to":"` + target + `","selector":"` + transfer + `"}],
		"caps":{
			"max_outflow_h1":{"USDC":"1000.5","WETH":"0.25","FOO":"2"},
			"max_outflow_d1":"5000000",
			"per_target":{"h1":{"` + targetUC + `|0xA9059CBB":{"USDC":"800"},"` + target + `":{"CUSTOM":"1.5"}}}
		},
		"meta":{"denominations":{"CUSTOM":{"decimals":2}}}
	}`
	reg := denom.Registry{"USDC": {Decimals: 6}, "WETH": {Decimals: 18}}
	p, err := NormalizeAndValidate([]byte(raw), reg)
	s.Require().NoError(err)

	h1, ok := p.Caps.MaxOutflowH1.For("USDC")
	s.Require().True(ok)
	s.Equal("1000500000", h1.String())
	weth, _ := p.Caps.MaxOutflowH1.For("WETH")
	s.Equal("250000000000000000", weth.String())
	foo, _ := p.Caps.MaxOutflowH1.For("FOO")
	s.Equal("2", foo.String(), "integer leaf is already base units")

	d1, ok := p.Caps.MaxOutflowD1.For("ANYTHING")
	s.Require().True(ok, "legacy cap applies to every denomination")
	s.Equal("5000000", d1.String())

	composite := "0x1111111111111111111111111111111111111abc|0xa9059cbb"
	s.Contains(p.Caps.PerTarget.H1, composite)
	custom, _ := p.Caps.PerTarget.H1[target].For("CUSTOM")
	s.Equal("150", custom.String(), "legacy denomination table supplies decimals")
}

func (s *PolicySuite) TestNormalizePrecisionViolation() {
	raw := `{"allowlist":[],"caps":{"max_outflow_h1":{"USDC":"1.0000001"}}}`
	_, err := NormalizeAndValidate([]byte(raw), denom.Registry{"USDC": {Decimals: 6}})
	s.Equal([]string{"/caps/max_outflow_h1/USDC"}, s.validationPaths(err))
}

func (s *PolicySuite) TestNormalizeFoldsDeprecatedAlias() {
	p, err := NormalizeAndValidate([]byte(`{"allowlist":[],"caps":{"max_per_function_h1":5}}`), nil)
	s.Require().NoError(err)
	s.Require().NotNil(p.Caps.MaxCallsPerFunctionH1)
	s.Equal(int64(5), *p.Caps.MaxCallsPerFunctionH1)

	p, err = NormalizeAndValidate([]byte(`{"allowlist":[],"caps":{"max_per_function_h1":5,"max_calls_per_function_h1":9}}`), nil)
	s.Require().NoError(err)
	s.Equal(int64(9), *p.Caps.MaxCallsPerFunctionH1, "canonical name wins")
}

func (s *PolicySuite) TestNormalizeDuplicateTargetKeys() {
	raw := `{"allowlist":[],"caps":{"per_target":{"d1":{"` + targetUC + `":"1","0x1111111111111111111111111111111111111abc":"2"}}}}`
	_, err := NormalizeAndValidate([]byte(raw), nil)
	s.Require().Error(err)
	s.Len(s.validationPaths(err), 1)
}

func (s *PolicySuite) TestNormalizeIsIdempotent() {
	raw := `{
		"allowlist":[{"chainId":8453,"to":"` + targetUC + `","selector":"` + transfer + `"}],
		"caps":{"max_outflow_h1":{"BASE_USDC":"10.5"},"max_per_function_h1":3,"per_target":{"d1":{"` + targetUC + `":{"BASE_USDC":"1.25"}}}},
		"pause":false,
		"meta":{"defaultDenomination":"BASE_USDC","nonce_max_gap":4}
	}`
	first, err := NormalizeAndValidate([]byte(raw), nil)
	s.Require().NoError(err)
	canon, err := Canonical(first)
	s.Require().NoError(err)

	second, err := NormalizeAndValidate(canon, nil)
	s.Require().NoError(err)
	canon2, err := Canonical(second)
	s.Require().NoError(err)
	s.Equal(string(canon), string(canon2))

	fp1, _ := Fingerprint(first)
	fp2, _ := Fingerprint(second)
	s.Equal(fp1, fp2)
}

func (s *PolicySuite) TestFingerprintStability() {
	a := `{"allowlist":[{"chainId":8453,"to":"` + target + `","selector":"` + transfer + `"}],"caps":{"max_outflow_h1":"1000","max_outflow_d1":"5000"},"meta":{"schemaVersion":"0.3"}}`
	b := `{"meta":{"schemaVersion":"0.3"},"caps":{"max_outflow_d1":"5000","max_outflow_h1":"1000"},"allowlist":[{"selector":"` + transfer + `","to":"` + target + `","chainId":8453}]}`
	c := `{"allowlist":[{"chainId":8453,"to":"` + target + `","selector":"` + transfer + `"}],"caps":{"max_outflow_h1":"1001","max_outflow_d1":"5000"},"meta":{"schemaVersion":"0.3"}}`

	fp := func(raw string) string {
		p, err := NormalizeAndValidate([]byte(raw), nil)
		s.Require().NoError(err)
		f, err := Fingerprint(p)
		s.Require().NoError(err)
		return f
	}
	s.Equal(fp(a), fp(b))
	s.NotEqual(fp(a), fp(c))
	s.Regexp(`^0x[0-9a-f]{64}$`, fp(a))
}

func (s *PolicySuite) TestCanonicalJSONSortsKeys() {
	out, err := CanonicalJSON([]byte(`{"b":1,"a":{"d":[3,1],"c":"<x>"}}`))
	s.Require().NoError(err)
	s.Equal(`{"a":{"c":"<x>","d":[3,1]},"b":1}`, string(out))

	// RFC 8785: числа и строки в канонической записи.
	out, err = CanonicalJSON([]byte(`{ "z": 1.50, "y": "\u00e9" }`))
	s.Require().NoError(err)
	s.Equal(`{"y":"é","z":1.5}`, string(out))

	_, err = CanonicalJSON([]byte(`{"a":`))
	s.Error(err)
}

func (s *PolicySuite) TestOpIDDeterministic() {
	intent := domain.Intent{ChainID: 8453, To: target, Selector: transfer, Amount: "5"}
	s.Equal(OpID("0xaa", intent), OpID("0xaa", intent))
	s.NotEqual(OpID("0xaa", intent), OpID("0xbb", intent))
}

func (s *PolicySuite) TestReadFileYAML() {
	path := filepath.Join(s.T().TempDir(), "policy.yaml")
	body := `
allowlist:
  - chainId: 8453
    to: "` + target + `"
    selector: "` + transfer + `"
caps:
  max_outflow_h1:
    USDC: "100.5"
  max_calls_per_function_d1: 10
meta:
  defaultDenomination: USDC
  slippage_max_bps: 50
`
	s.Require().NoError(os.WriteFile(path, []byte(body), 0o600))

	raw, err := ReadFile(path)
	s.Require().NoError(err)
	p, err := NormalizeAndValidate(raw, denom.Registry{"USDC": {Decimals: 6}})
	s.Require().NoError(err)

	v, _ := p.Caps.MaxOutflowH1.For("USDC")
	s.Equal("100500000", v.String())
	s.Equal(int64(10), *p.Caps.MaxCallsPerFunctionD1)
	s.Equal(int64(50), *p.Meta.SlippageMaxBps)
	s.Equal("USDC", p.Meta.DefaultDenomination)
}

func (s *PolicySuite) TestRegistryPathFromDocument() {
	doc, err := Validate([]byte(`{"allowlist":[],"meta":{"tokens_registry_path":"config/tokens.json"}}`))
	s.Require().NoError(err)
	s.Equal("config/tokens.json", doc.RegistryPath())
}
