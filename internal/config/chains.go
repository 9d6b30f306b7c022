package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// RPCProvider is one ordered endpoint in a chain's provider pool.
type RPCProvider struct {
	URL             string `json:"url"`
	Priority        int    `json:"priority"`
	Weight          int    `json:"weight"`
	CooldownSeconds int    `json:"cooldown_seconds"`
}

// ContractAddresses holds the three registry contracts indexed on a chain.
type ContractAddresses struct {
	Identity   string `json:"identity"`
	Reputation string `json:"reputation"`
	Validation string `json:"validation"`
}

// StartingBlock is either the literal string "latest" or a fixed block
// number.
type StartingBlock struct {
	Latest bool
	Block  uint64
}

// UnmarshalJSON accepts either `"latest"` or a JSON number.
func (s *StartingBlock) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString != "latest" {
			return fmt.Errorf("starting_block: unrecognized string %q", asString)
		}
		s.Latest = true
		return nil
	}

	var asNumber uint64
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return fmt.Errorf("starting_block: must be \"latest\" or a number: %w", err)
	}
	s.Block = asNumber
	return nil
}

// ChainConfig is the static, startup-time configuration for one chain.
type ChainConfig struct {
	ChainID         uint64            `json:"chain_id"`
	Name            string            `json:"name"`
	Enabled         bool              `json:"enabled"`
	Contracts       ContractAddresses `json:"contracts"`
	RPCProviders    []RPCProvider     `json:"rpc_providers"`
	StartingBlock   StartingBlock     `json:"starting_block"`
	PollIntervalMS  uint32            `json:"poll_interval_ms"`
	BatchSize       uint32            `json:"batch_size"`
	AdaptivePolling bool              `json:"adaptive_polling"`
}

// IdentityAddress returns the Identity registry contract address.
func (c *ChainConfig) IdentityAddress() common.Address {
	return common.HexToAddress(c.Contracts.Identity)
}

// ReputationAddress returns the Reputation registry contract address.
func (c *ChainConfig) ReputationAddress() common.Address {
	return common.HexToAddress(c.Contracts.Reputation)
}

// ValidationAddress returns the Validation registry contract address.
func (c *ChainConfig) ValidationAddress() common.Address {
	return common.HexToAddress(c.Contracts.Validation)
}

// RegistryAddresses returns all three monitored contract addresses.
func (c *ChainConfig) RegistryAddresses() []common.Address {
	return []common.Address{c.IdentityAddress(), c.ReputationAddress(), c.ValidationAddress()}
}

// Global holds process-wide indexer defaults.
type Global struct {
	MaxIndexerRetries      int `json:"max_indexer_retries"`
	RetryBaseDelayMS       int `json:"retry_base_delay_ms"`
	RetryMaxDelayMS        int `json:"retry_max_delay_ms"`
	AdaptivePollingEnabled bool `json:"adaptive_polling_enabled"`
	MaxParallelBlocks      int `json:"max_parallel_blocks"`
}

// DefaultGlobal returns conservative process-wide defaults.
func DefaultGlobal() Global {
	return Global{
		MaxIndexerRetries:      5,
		RetryBaseDelayMS:       1000,
		RetryMaxDelayMS:        60000,
		AdaptivePollingEnabled: true,
		MaxParallelBlocks:      100,
	}
}

// ChainsFile is the on-disk shape of the multi-chain definition file.
type ChainsFile struct {
	Global Global        `json:"global"`
	Chains []ChainConfig `json:"chains"`
}

// LoadChains reads and validates the chain definitions file.
func LoadChains(path string) (*ChainsFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chains file: %w", err)
	}

	cf := ChainsFile{Global: DefaultGlobal()}
	if err := json.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse chains file: %w", err)
	}

	for i := range cf.Chains {
		if err := validateChain(&cf.Chains[i]); err != nil {
			return nil, fmt.Errorf("chain %q: %w", cf.Chains[i].Name, err)
		}
	}

	return &cf, nil
}

func validateChain(c *ChainConfig) error {
	if !c.Enabled {
		return nil
	}
	if len(c.RPCProviders) == 0 {
		return fmt.Errorf("enabled chain must configure at least one rpc provider")
	}
	if !common.IsHexAddress(c.Contracts.Identity) ||
		!common.IsHexAddress(c.Contracts.Reputation) ||
		!common.IsHexAddress(c.Contracts.Validation) {
		return fmt.Errorf("enabled chain must configure all three registry addresses")
	}
	if c.PollIntervalMS == 0 {
		c.PollIntervalMS = 2000
	}
	if c.BatchSize == 0 {
		c.BatchSize = 20
	}
	return nil
}

// EnabledChains returns only the chains marked enabled.
func (cf *ChainsFile) EnabledChains() []ChainConfig {
	out := make([]ChainConfig, 0, len(cf.Chains))
	for _, c := range cf.Chains {
		if c.Enabled {
			out = append(out, c)
		}
	}
	return out
}
