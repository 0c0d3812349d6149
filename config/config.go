// Package config loads the network configuration: RPC endpoint, deployed
// contract addresses, the address book and submission settings.
package config

import (
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/goerr/v2"
)

// Deployment names looked up by the CLI.
const (
	DeploymentCore                = "GelatoCore"
	DeploymentUserProxyFactory    = "GelatoUserProxyFactory"
	DeploymentProviderModule      = "ProviderModuleGelatoUserProxy"
	DeploymentSubmitTaskInFuture  = "ActionSubmitTaskInFuture"
	DeploymentGasPriceOracle      = "GelatoGasPriceOracle"
	AddressBookExecutorCategory   = "gelatoExecutor"
	AddressBookDefaultExecutorKey = "default"
)

type Config struct {
	Network  string `koanf:"network" validate:"required" env:"GELATO_NETWORK"`
	ChainID  int64  `koanf:"chain_id" validate:"gt=0" env:"GELATO_CHAIN_ID"`
	RPCURL   string `koanf:"rpc_url" validate:"omitempty,url" env:"GELATO_RPC_URL"`
	GasPrice string `koanf:"gas_price" env:"GELATO_GAS_PRICE"`
	Executor string `koanf:"executor" validate:"omitempty,eth_addr" env:"GELATO_EXECUTOR"`

	// ProxySalt is the CREATE2 salt of the user proxy.
	ProxySalt string `koanf:"proxy_salt" env:"GELATO_PROXY_SALT"`

	Deployments map[string]string            `koanf:"deployments" validate:"dive,eth_addr"`
	AddressBook map[string]map[string]string `koanf:"addressbook" validate:"dive,dive,eth_addr"`

	Submission Submission `koanf:"submission"`
}

type Submission struct {
	CallTimeout        time.Duration `koanf:"call_timeout" validate:"gte=0" env:"GELATO_SUBMISSION_CALL_TIMEOUT"`
	MaxRetries         uint64        `koanf:"max_retries" env:"GELATO_SUBMISSION_MAX_RETRIES"`
	RetryBackoff       time.Duration `koanf:"retry_backoff" validate:"gte=0" env:"GELATO_SUBMISSION_RETRY_BACKOFF"`
	ExpectedExecutions uint64        `koanf:"expected_executions" validate:"gte=1" env:"GELATO_SUBMISSION_EXPECTED_EXECUTIONS"`
	GasPerExecution    uint64        `koanf:"gas_per_execution" validate:"gte=1" env:"GELATO_SUBMISSION_GAS_PER_EXECUTION"`

	// Journal is the directory of the receipt journal. Empty keeps receipts in memory.
	Journal string `koanf:"journal" env:"GELATO_SUBMISSION_JOURNAL"`
}

// Default returns the configuration of a local development node.
func Default() *Config {
	return &Config{
		Network:     "local",
		ChainID:     1337,
		RPCURL:      "http://127.0.0.1:8545",
		ProxySalt:   "0",
		Deployments: map[string]string{},
		AddressBook: map[string]map[string]string{},
		Submission: Submission{
			CallTimeout:        gelato.DefaultCallTimeout,
			MaxRetries:         gelato.DefaultMaxRetries,
			RetryBackoff:       gelato.DefaultRetryBackoff,
			ExpectedExecutions: gelato.DefaultExpectedExecutions,
			GasPerExecution:    gelato.DefaultGasPerExecution,
		},
	}
}

// Deployment returns the address of the deployed contract name.
func (c *Config) Deployment(name string) (common.Address, error) {
	v, ok := c.Deployments[name]
	if !ok {
		return common.Address{}, goerr.New("unknown deployment", goerr.V("name", name), goerr.V("network", c.Network))
	}
	return common.HexToAddress(v), nil
}

// Entry returns the address book entry of category.
func (c *Config) Entry(category, name string) (common.Address, error) {
	entries, ok := c.AddressBook[category]
	if !ok {
		return common.Address{}, goerr.New("unknown address book category", goerr.V("category", category), goerr.V("network", c.Network))
	}
	v, ok := entries[name]
	if !ok {
		return common.Address{}, goerr.New("unknown address book entry", goerr.V("category", category), goerr.V("entry", name))
	}
	return common.HexToAddress(v), nil
}

// Resolve turns a reference into an address. Accepted forms are a hex
// address, "$deployments.<name>" and "$addressbook.<category>.<name>".
func (c *Config) Resolve(ref string) (common.Address, error) {
	switch {
	case strings.HasPrefix(ref, "$deployments."):
		return c.Deployment(strings.TrimPrefix(ref, "$deployments."))

	case strings.HasPrefix(ref, "$addressbook."):
		category, name, ok := strings.Cut(strings.TrimPrefix(ref, "$addressbook."), ".")
		if !ok {
			return common.Address{}, goerr.New("address book reference needs a category and a name", goerr.V("ref", ref))
		}
		return c.Entry(category, name)

	case common.IsHexAddress(ref):
		return common.HexToAddress(ref), nil
	}
	return common.Address{}, goerr.New("invalid address reference", goerr.V("ref", ref))
}

// Lookup is the reverse of Resolve: it names addr after the deployment or
// address book entry that holds it. Deployments win over address book entries.
func (c *Config) Lookup(addr common.Address) (string, bool) {
	for _, name := range sortedKeys(c.Deployments) {
		if common.HexToAddress(c.Deployments[name]) == addr {
			return "$deployments." + name, true
		}
	}
	for _, category := range sortedKeys(c.AddressBook) {
		entries := c.AddressBook[category]
		for _, name := range sortedKeys(entries) {
			if common.HexToAddress(entries[name]) == addr {
				return "$addressbook." + category + "." + name, true
			}
		}
	}
	return "", false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GasPriceWei returns the configured execution gas price, or nil when the
// engine's price should be used.
func (c *Config) GasPriceWei() (*big.Int, error) {
	if c.GasPrice == "" {
		return nil, nil
	}
	return ParseAmount(c.GasPrice)
}

// DefaultExecutor returns the configured executor, falling back to the
// "gelatoExecutor.default" address book entry. The zero address means none.
func (c *Config) DefaultExecutor() common.Address {
	if c.Executor != "" {
		return common.HexToAddress(c.Executor)
	}
	if addr, err := c.Entry(AddressBookExecutorCategory, AddressBookDefaultExecutorKey); err == nil {
		return addr
	}
	return common.Address{}
}

func (c *Config) Salt() (*big.Int, error) {
	if c.ProxySalt == "" {
		return new(big.Int), nil
	}
	salt, ok := new(big.Int).SetString(c.ProxySalt, 0)
	if !ok || salt.Sign() < 0 {
		return nil, goerr.New("invalid proxy salt", goerr.V("salt", c.ProxySalt))
	}
	return salt, nil
}

// ClientOptions converts the submission settings into client options.
func (c *Config) ClientOptions() ([]gelato.Option, error) {
	opts := []gelato.Option{
		gelato.WithCallTimeout(c.Submission.CallTimeout),
		gelato.WithMaxRetries(c.Submission.MaxRetries),
		gelato.WithRetryBackoff(c.Submission.RetryBackoff),
		gelato.WithExpectedExecutions(c.Submission.ExpectedExecutions),
		gelato.WithGasPerExecution(new(big.Int).SetUint64(c.Submission.GasPerExecution)),
	}

	price, err := c.GasPriceWei()
	if err != nil {
		return nil, err
	}
	if price != nil {
		opts = append(opts, gelato.WithGasPrice(price))
	}
	if executor := c.DefaultExecutor(); executor != (common.Address{}) {
		opts = append(opts, gelato.WithExpectedExecutor(executor))
	}
	if c.Submission.Journal != "" {
		opts = append(opts, gelato.WithJournal(gelato.NewFileJournal(c.Submission.Journal)))
	}
	return opts, nil
}
