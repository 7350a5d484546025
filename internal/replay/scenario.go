package replay

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"claimCurve/internal/fixedpoint"
	"claimCurve/internal/pool"
)

// Step operations understood by the runner.
const (
	OpFund          = "fund"
	OpSetIndex      = "set-index"
	OpInitialize    = "initialize"
	OpAllocate      = "allocate"
	OpDeallocate    = "deallocate"
	OpAssetForYield = "asset-for-yield"
)

// Scenario is a scripted sequence of pool operations.
type Scenario struct {
	Name        string            `yaml:"name"`
	Pool        PoolSpec          `yaml:"pool"`
	Index       string            `yaml:"index"`
	Vault       string            `yaml:"vault"`
	Accounts    map[string]string `yaml:"accounts"`
	StopOnError bool              `yaml:"stop_on_error"`
	Steps       []Step            `yaml:"steps"`

	id string
}

// PoolSpec holds the pool parameters as human decimals.
type PoolSpec struct {
	Sigma         string `yaml:"sigma"`
	Fee           string `yaml:"fee"`
	Maturity      uint64 `yaml:"maturity"`
	AssetDecimals *uint8 `yaml:"asset_decimals"`
	ClaimDecimals *uint8 `yaml:"claim_decimals"`
	Asset         string `yaml:"asset"`
	Claim         string `yaml:"claim"`
	Yield         string `yaml:"yield"`
}

// Step is one scenario operation. Token amounts are human decimals in token
// units; deallocate amounts are liquidity.
type Step struct {
	Op        string `yaml:"op"`
	Account   string `yaml:"account"`
	Token     string `yaml:"token"`
	Amount    string `yaml:"amount"`
	Limit     string `yaml:"limit"`
	MinClaim  string `yaml:"min_claim"`
	Side      string `yaml:"side"`
	Strike    string `yaml:"strike"`
	PriceHint string `yaml:"price_hint"`
	Epsilon   string `yaml:"epsilon"`
	Guess     string `yaml:"guess"`
	Index     string `yaml:"index"`
	// At is an absolute timestamp; ToMaturity is seconds before maturity.
	// With neither set the step runs at the previous step's time.
	At         uint64  `yaml:"at"`
	ToMaturity *uint64 `yaml:"to_maturity"`
}

// ID identifies the scenario content; checkpoints are only resumed against the
// same ID.
func (s *Scenario) ID() string { return s.id }

// LoadScenario reads and validates a YAML scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a YAML scenario. Unknown keys are rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	sum := blake3.Sum256(data)
	s.id = hex.EncodeToString(sum[:])
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func knownOp(op string) bool {
	switch op {
	case OpFund, OpSetIndex, OpInitialize, OpAllocate, OpDeallocate, OpAssetForYield:
		return true
	}
	_, err := pool.ParseDirection(op)
	return err == nil
}

// Validate checks the parameters and that every step names a known op and account.
func (s *Scenario) Validate() error {
	if _, err := s.Params(); err != nil {
		return err
	}
	accounts, err := ParseAccounts(s.Accounts)
	if err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario has no steps")
	}
	for i, st := range s.Steps {
		op := strings.ToLower(strings.TrimSpace(st.Op))
		if !knownOp(op) {
			return fmt.Errorf("step %d: unknown op %q", i+1, st.Op)
		}
		if op == OpSetIndex {
			continue
		}
		if _, err := resolveAccount(accounts, st.Account); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

// Params converts the pool section into engine parameters.
func (s *Scenario) Params() (pool.Params, error) {
	sigma, err := fixedpoint.ParseWad(s.Pool.Sigma)
	if err != nil {
		return pool.Params{}, fmt.Errorf("pool sigma: %w", err)
	}
	fee, err := parseWadOr(s.Pool.Fee, new(uint256.Int))
	if err != nil {
		return pool.Params{}, fmt.Errorf("pool fee: %w", err)
	}
	p := pool.Params{
		Sigma:         sigma,
		Fee:           fee,
		Maturity:      s.Pool.Maturity,
		AssetDecimals: decimalsOr(s.Pool.AssetDecimals),
		ClaimDecimals: decimalsOr(s.Pool.ClaimDecimals),
	}
	for _, tok := range []struct {
		name string
		in   string
		out  *common.Address
	}{
		{"asset", s.Pool.Asset, &p.Asset},
		{"claim", s.Pool.Claim, &p.Claim},
		{"yield", s.Pool.Yield, &p.Yield},
	} {
		addr, err := ParseAddress(tok.in)
		if err != nil {
			return pool.Params{}, fmt.Errorf("pool %s: %w", tok.name, err)
		}
		*tok.out = addr
	}
	if err := p.Validate(); err != nil {
		return pool.Params{}, err
	}
	return p, nil
}

func decimalsOr(d *uint8) uint8 {
	if d == nil {
		return fixedpoint.Decimals
	}
	return *d
}
