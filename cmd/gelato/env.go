package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gelato/calldata"
	"github.com/m-mizutani/gelato/config"
	"github.com/m-mizutani/gelato/engine/ethcore"
	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/gelato/trace/logger"
	"github.com/m-mizutani/gelato/trace/otel"
	"github.com/m-mizutani/goerr/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// envPrivateKey holds the hex encoded key of the account that signs transactions.
const envPrivateKey = "GELATO_PRIVATE_KEY"

// environment is what operations share: configuration, the contract registry
// and a lazily dialed node connection.
type environment struct {
	cfg      *config.Config
	registry *calldata.Registry
	logger   *slog.Logger
	out      io.Writer
	in       io.Reader
	getenv   func(string) string

	// ops is the operation registry the MCP server exposes.
	ops *registry

	// handlers receive trace events of every client the environment creates.
	handlers []trace.Handler
	gatherer prometheus.Gatherer

	dialOnce sync.Once
	backend  ethcore.Backend
	dialErr  error
}

// newEnvironment creates an environment on the default configuration. The
// configuration file is loaded later, once global flags are parsed.
func newEnvironment(logger *slog.Logger, out io.Writer, in io.Reader, getenv func(string) string) (*environment, error) {
	reg, err := calldata.New()
	if err != nil {
		return nil, err
	}
	return &environment{
		cfg:      config.Default(),
		registry: reg,
		logger:   logger,
		out:      out,
		in:       in,
		getenv:   getenv,
	}, nil
}

func (x *environment) print(v any) error {
	enc := json.NewEncoder(x.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to write output")
	}
	return nil
}

// resolve accepts a hex address or an address book / deployment reference.
func (x *environment) resolve(ref string) (common.Address, error) {
	return x.cfg.Resolve(ref)
}

func (x *environment) dial(ctx context.Context) (ethcore.Backend, error) {
	x.dialOnce.Do(func() {
		if x.backend != nil {
			return
		}
		client, err := ethclient.DialContext(ctx, x.cfg.RPCURL)
		if err != nil {
			x.dialErr = goerr.Wrap(err, "failed to connect to RPC", goerr.V("url", x.cfg.RPCURL), goerr.Tag(gelato.TagTransient))
			return
		}
		x.backend = client
	})
	return x.backend, x.dialErr
}

func (x *environment) contracts() (ethcore.Contracts, error) {
	var c ethcore.Contracts
	var err error
	if c.Core, err = x.cfg.Deployment(config.DeploymentCore); err != nil {
		return c, err
	}
	if c.ProxyFactory, err = x.cfg.Deployment(config.DeploymentUserProxyFactory); err != nil {
		return c, err
	}
	if _, ok := x.cfg.Deployments[config.DeploymentGasPriceOracle]; ok {
		if c.GasPriceOracle, err = x.cfg.Deployment(config.DeploymentGasPriceOracle); err != nil {
			return c, err
		}
	}
	return c, nil
}

// signer reads the private key from the environment. It returns nil when no
// key is set.
func (x *environment) signer() (*bind.TransactOpts, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(x.getenv(envPrivateKey)), "0x")
	if raw == "" {
		return nil, nil
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid private key", goerr.V("env", envPrivateKey))
	}
	return ethcore.NewSigner(key, big.NewInt(x.cfg.ChainID))
}

func (x *environment) requireSigner() (*bind.TransactOpts, error) {
	opts, err := x.signer()
	if err != nil {
		return nil, err
	}
	if opts == nil {
		return nil, goerr.New("private key is required", goerr.V("env", envPrivateKey))
	}
	return opts, nil
}

// session is an engine bound to the signing account and its user proxy.
type session struct {
	engine    *ethcore.Engine
	owner     common.Address
	userProxy common.Address
}

// engine dials the node and builds an engine. With a key in the environment
// the engine signs transactions and sends them through the predicted user
// proxy of that key.
func (x *environment) engine(ctx context.Context) (*session, error) {
	backend, err := x.dial(ctx)
	if err != nil {
		return nil, err
	}
	contracts, err := x.contracts()
	if err != nil {
		return nil, err
	}

	opts, err := x.signer()
	if err != nil {
		return nil, err
	}
	if opts == nil {
		eng, err := ethcore.New(backend, x.registry, contracts)
		if err != nil {
			return nil, err
		}
		return &session{engine: eng}, nil
	}

	reader, err := ethcore.New(backend, x.registry, contracts)
	if err != nil {
		return nil, err
	}
	salt, err := x.cfg.Salt()
	if err != nil {
		return nil, err
	}
	proxy, err := reader.PredictProxyAddress(ctx, opts.From, salt)
	if err != nil {
		return nil, err
	}

	eng, err := ethcore.New(backend, x.registry, contracts, ethcore.WithSigner(opts), ethcore.WithUserProxy(proxy))
	if err != nil {
		return nil, err
	}
	x.logger.Debug("engine ready", "owner", opts.From.Hex(), "user_proxy", proxy.Hex())
	return &session{engine: eng, owner: opts.From, userProxy: proxy}, nil
}

// addressOr resolves ref, falling back to fallback when ref is empty.
func (x *environment) addressOr(ref string, fallback common.Address, name string) (common.Address, error) {
	if ref != "" {
		return x.resolve(ref)
	}
	if fallback == (common.Address{}) {
		return common.Address{}, goerr.New("address is required", goerr.V("param", name))
	}
	return fallback, nil
}

// traceHandler fans trace events out to the slog handler, the OpenTelemetry
// bridge and any extra handler of the environment.
func (x *environment) traceHandler(extra ...trace.Handler) trace.Handler {
	handlers := []trace.Handler{
		logger.New(logger.WithLogger(x.logger)),
		otel.New(),
	}
	handlers = append(handlers, x.handlers...)
	handlers = append(handlers, extra...)
	return trace.Multi(handlers...)
}

// client builds a submission client on s configured from the settings file.
func (x *environment) client(s *session, extra ...trace.Handler) (*gelato.Client, error) {
	opts, err := x.cfg.ClientOptions()
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		gelato.WithLogger(x.logger),
		gelato.WithTrace(x.traceHandler(extra...)),
	)
	if s.userProxy != (common.Address{}) {
		opts = append(opts, gelato.WithUserProxy(s.userProxy))
	}
	return gelato.New(s.engine, x.registry, opts...), nil
}
