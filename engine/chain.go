package engine

import (
	"context"
	"math"
	"strings"
)

// ============================================================================
// CHAIN PROTOCOL SURFACE
// ============================================================================

// The engine performs no cryptography and owns no network connections: the
// chain client and signer capability are injected by the host.

// Network describes a supported chain and its unit conversion parameters.
type Network struct {
	Name       string  `yaml:"name"`
	RPCURL     string  `yaml:"rpc_url"`
	SS58Format int     `yaml:"ss58_format"`
	Decimals   int     `yaml:"decimals"`
	Symbol     string  `yaml:"symbol"`
	// ExistentialDeposit is the minimum balance (in display units) an
	// account must keep to avoid being reaped.
	ExistentialDeposit float64 `yaml:"existential_deposit"`
}

var Networks = map[string]Network{
	"polkadot": {
		Name:               "polkadot",
		RPCURL:             "wss://rpc.polkadot.io",
		SS58Format:         0,
		Decimals:           10,
		Symbol:             "DOT",
		ExistentialDeposit: 1.0,
	},
	"kusama": {
		Name:               "kusama",
		RPCURL:             "wss://kusama-rpc.polkadot.io",
		SS58Format:         2,
		Decimals:           12,
		Symbol:             "KSM",
		ExistentialDeposit: 0.000333333333,
	},
	"westend": {
		Name:               "westend",
		RPCURL:             "wss://westend-rpc.polkadot.io",
		SS58Format:         42,
		Decimals:           12,
		Symbol:             "WND",
		ExistentialDeposit: 0.01,
	},
}

// DefaultNetwork is used when a scenario does not name one.
var DefaultNetwork = Networks["westend"]

// ToPlanck converts a display-unit amount to the chain's smallest unit.
func (n Network) ToPlanck(amount float64) uint64 {
	return uint64(math.Round(amount * math.Pow10(n.Decimals)))
}

// FromPlanck converts the chain's smallest unit to display units.
func (n Network) FromPlanck(planck uint64) float64 {
	return float64(planck) / math.Pow10(n.Decimals)
}

// AccountBalance mirrors the on-chain account data record, in planck.
type AccountBalance struct {
	Free     uint64 `json:"free"`
	Reserved uint64 `json:"reserved"`
	Frozen   uint64 `json:"frozen"`
}

func (b AccountBalance) Total() uint64 {
	return b.Free + b.Reserved
}

// Extrinsic is a protocol call to be signed and submitted.
type Extrinsic struct {
	Pallet string         `json:"pallet"`
	Call   string         `json:"call"`
	Args   map[string]any `json:"args"`
}

// Timepoint identifies a prior multisig approval on chain.
type Timepoint struct {
	Height uint64 `json:"height" yaml:"height"`
	Index  uint32 `json:"index" yaml:"index"`
}

// Submission is the receipt for a submitted extrinsic.
type Submission struct {
	Hash  string `json:"hash"`
	Block uint64 `json:"block"`
}

// Keypair is the signer capability for one entity. Implementations live in
// the host; the engine never derives or touches key material.
type Keypair interface {
	Address() string
	Sign(payload []byte) ([]byte, error)
}

// ChainClient is the injected chain-protocol handle.
type ChainClient interface {
	QueryBalance(ctx context.Context, address string) (AccountBalance, error)
	QueryState(ctx context.Context, pallet, storage string, args []any) (any, error)
	BlockHeight(ctx context.Context) (uint64, error)
	Submit(ctx context.Context, ext Extrinsic, signer Keypair) (Submission, error)
	// WaitForInclusion blocks until the submission is included at or past
	// the given block height.
	WaitForInclusion(ctx context.Context, hash string, minHeight uint64) error
}

// SignerResolver maps an acting-entity name to its keypair.
type SignerResolver func(entity string) (Keypair, error)

// BalanceFunc is an optional direct balance-query override (display units),
// for environments without a live protocol handle.
type BalanceFunc func(ctx context.Context, entity string) (float64, error)

// ============================================================================
// WELL-KNOWN DEV ENTITIES
// ============================================================================

// DevAddresses are the canonical well-known development accounts. They seed
// the default entity table for prompt substitution and evaluation.
var DevAddresses = map[string]string{
	"alice":   "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY",
	"bob":     "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty",
	"charlie": "5FLSigC9HGRKVhB9FiEo4Y3koPsNmBmLJbpXg2mp1hXcS59Y",
}

// ResolveDevAddress looks up a well-known entity name, case-insensitively.
func ResolveDevAddress(name string) (string, bool) {
	addr, ok := DevAddresses[strings.ToLower(name)]
	return addr, ok
}
