package main

import (
	"context"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gelato/config"
	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/gelato/trace/gcs"
	"github.com/m-mizutani/goerr/v2"
)

type providerInput struct {
	Provider string
	Module   string
}

type eligibilityOutput struct {
	Provider       string   `json:"provider"`
	Module         string   `json:"module"`
	Eligible       bool     `json:"eligible"`
	Liquid         bool     `json:"liquid"`
	Executor       string   `json:"executor"`
	ModuleProvided bool     `json:"module_provided"`
	Gas            string   `json:"gas"`
	GasPrice       string   `json:"gas_price"`
	Reasons        []string `json:"reasons"`
}

func eligibilityOperation() registered {
	return &operation[providerInput]{
		name:  "eligibility",
		usage: "Check whether a provider can pay for and route the execution of tasks",
		tool:  true,
		params: []param{
			{name: "provider", usage: "Provider address or reference; defaults to the user proxy"},
			{name: "module", usage: "Provider module address or reference", value: "$deployments." + config.DeploymentProviderModule},
		},
		parse: func(in input) (providerInput, error) {
			return providerInput{Provider: in.String("provider"), Module: in.String("module")}, nil
		},
		run: func(ctx context.Context, env *environment, in providerInput) (any, error) {
			s, err := env.engine(ctx)
			if err != nil {
				return nil, err
			}
			provider, err := env.provider(in, s.userProxy)
			if err != nil {
				return nil, err
			}
			client, err := env.client(s)
			if err != nil {
				return nil, err
			}

			result, err := client.Eligibility(ctx, provider)
			if err != nil {
				return nil, err
			}
			return &eligibilityOutput{
				Provider:       provider.Addr.Hex(),
				Module:         provider.Module.Hex(),
				Eligible:       result.Eligible(),
				Liquid:         result.Liquid,
				Executor:       result.Executor.Hex(),
				ModuleProvided: result.ModuleProvided,
				Gas:            result.Gas.String(),
				GasPrice:       result.GasPrice.String(),
				Reasons:        append([]string{}, result.Reasons...),
			}, nil
		},
	}
}

func (x *environment) provider(in providerInput, userProxy common.Address) (gelato.Provider, error) {
	addr, err := x.addressOr(in.Provider, userProxy, "provider")
	if err != nil {
		return gelato.Provider{}, err
	}
	module, err := x.resolve(in.Module)
	if err != nil {
		return gelato.Provider{}, err
	}
	return gelato.NewProvider(addr, module)
}

type submitInput struct {
	validateInput
	Nonce       uint64
	TraceDir    string
	TraceBucket string
	TracePrefix string
}

func submitOperation() registered {
	return &operation[submitInput]{
		name:  "submit",
		usage: "Build a task file and submit its cycle through the user proxy",
		params: append(taskFileParams(),
			param{name: "nonce", usage: "Submission nonce; resubmitting with the same nonce returns the recorded receipt", value: "0"},
			param{name: "trace-dir", usage: "Directory where the submission trace is written", env: "GELATO_TRACE_DIR"},
			param{name: "trace-bucket", usage: "Google Cloud Storage bucket where the submission trace is written", env: "GELATO_TRACE_BUCKET"},
			param{name: "trace-prefix", usage: "Object prefix of traces written to the bucket", env: "GELATO_TRACE_PREFIX"},
		),
		parse: func(in input) (submitInput, error) {
			base, err := parseTaskFileInput(in)
			if err != nil {
				return submitInput{}, err
			}
			nonce, err := strconv.ParseUint(in.String("nonce"), 10, 64)
			if err != nil {
				return submitInput{}, goerr.Wrap(err, "invalid nonce", goerr.V("nonce", in.String("nonce")))
			}
			x := submitInput{
				validateInput: base,
				Nonce:         nonce,
				TraceDir:      in.String("trace-dir"),
				TraceBucket:   in.String("trace-bucket"),
				TracePrefix:   in.String("trace-prefix"),
			}
			if x.TraceDir != "" && x.TraceBucket != "" {
				return x, goerr.New("--trace-dir and --trace-bucket are mutually exclusive")
			}
			return x, nil
		},
		run: func(ctx context.Context, env *environment, in submitInput) (any, error) {
			if _, err := env.requireSigner(); err != nil {
				return nil, err
			}
			s, err := env.engine(ctx)
			if err != nil {
				return nil, err
			}

			plan, err := buildPlan(ctx, env, in.validateInput, s.userProxy)
			if err != nil {
				return nil, err
			}

			var repo trace.Repository
			switch {
			case in.TraceDir != "":
				repo = trace.NewFileRepository(in.TraceDir)
			case in.TraceBucket != "":
				if repo, err = gcs.New(ctx, in.TraceBucket, in.TracePrefix); err != nil {
					return nil, err
				}
			}

			var extra []trace.Handler
			if repo != nil {
				extra = append(extra, trace.New(
					trace.WithRepository(repo),
					trace.WithMetadata(trace.TraceMetadata{
						Network: env.cfg.Network,
						ChainID: uint64(env.cfg.ChainID),
						Labels:  map[string]string{"task_file": in.File},
					}),
					trace.WithLogger(env.logger),
				))
			}
			client, err := env.client(s, extra...)
			if err != nil {
				return nil, err
			}

			return plan.Submit(ctx, client, gelato.WithSubmissionNonce(in.Nonce))
		},
	}
}

type predictInput struct {
	Owner string
	Salt  string
}

type predictOutput struct {
	Owner    string `json:"owner"`
	Salt     string `json:"salt"`
	Proxy    string `json:"proxy"`
	Deployed bool   `json:"deployed"`
}

func predictProxyOperation() registered {
	return &operation[predictInput]{
		name:  "predict-proxy",
		usage: "Predict the user proxy address of an owner and whether it is deployed",
		tool:  true,
		params: []param{
			{name: "owner", usage: "Owner address or reference; defaults to the signing key"},
			{name: "salt", usage: "CREATE2 salt; defaults to the configured proxy salt"},
		},
		parse: func(in input) (predictInput, error) {
			return predictInput{Owner: in.String("owner"), Salt: in.String("salt")}, nil
		},
		run: func(ctx context.Context, env *environment, in predictInput) (any, error) {
			s, err := env.engine(ctx)
			if err != nil {
				return nil, err
			}
			owner, err := env.addressOr(in.Owner, s.owner, "owner")
			if err != nil {
				return nil, err
			}

			cfg := *env.cfg
			if in.Salt != "" {
				cfg.ProxySalt = in.Salt
			}
			salt, err := cfg.Salt()
			if err != nil {
				return nil, err
			}

			proxy, err := s.engine.PredictProxyAddress(ctx, owner, salt)
			if err != nil {
				return nil, err
			}
			deployed, err := s.engine.IsGelatoUserProxy(ctx, proxy)
			if err != nil {
				return nil, err
			}
			return &predictOutput{
				Owner:    owner.Hex(),
				Salt:     salt.String(),
				Proxy:    proxy.Hex(),
				Deployed: deployed,
			}, nil
		},
	}
}

type fundsInput struct {
	Provider string
	Amount   string
}

type txOutput struct {
	Tx string `json:"tx"`
}

func provideFundsOperation() registered {
	return &operation[fundsInput]{
		name:  "provide-funds",
		usage: "Deposit execution funds for a provider",
		params: []param{
			{name: "provider", usage: "Provider address or reference; defaults to the user proxy"},
			{name: "amount", usage: "Amount with unit, e.g. \"0.1 ether\" or \"20 gwei\"", required: true},
		},
		parse: func(in input) (fundsInput, error) {
			return fundsInput{Provider: in.String("provider"), Amount: in.String("amount")}, nil
		},
		run: func(ctx context.Context, env *environment, in fundsInput) (any, error) {
			amount, err := config.ParseAmount(in.Amount)
			if err != nil {
				return nil, err
			}
			if _, err := env.requireSigner(); err != nil {
				return nil, err
			}
			s, err := env.engine(ctx)
			if err != nil {
				return nil, err
			}
			provider, err := env.addressOr(in.Provider, s.userProxy, "provider")
			if err != nil {
				return nil, err
			}

			tx, err := s.engine.ProvideFunds(ctx, provider, amount)
			if err != nil {
				return nil, err
			}
			env.logger.Info("funds provided", "provider", provider.Hex(), "amount", amount.String(), "tx", tx.Hex())
			return &txOutput{Tx: tx.Hex()}, nil
		},
	}
}

type balanceInput struct {
	Token string
	Owner string
}

type balanceOutput struct {
	Token     string `json:"token"`
	Owner     string `json:"owner"`
	Balance   string `json:"balance"`
	Decimals  uint8  `json:"decimals"`
	Formatted string `json:"formatted"`
}

func erc20BalanceOperation() registered {
	return &operation[balanceInput]{
		name:  "erc20-balance",
		usage: "Show the ERC-20 balance of an account",
		tool:  true,
		params: []param{
			{name: "token", usage: "Token address or reference", required: true},
			{name: "owner", usage: "Account address or reference; defaults to the user proxy"},
		},
		parse: func(in input) (balanceInput, error) {
			return balanceInput{Token: in.String("token"), Owner: in.String("owner")}, nil
		},
		run: func(ctx context.Context, env *environment, in balanceInput) (any, error) {
			token, err := env.resolve(in.Token)
			if err != nil {
				return nil, err
			}
			s, err := env.engine(ctx)
			if err != nil {
				return nil, err
			}
			owner, err := env.addressOr(in.Owner, s.userProxy, "owner")
			if err != nil {
				return nil, err
			}

			erc20 := s.engine.Token(token)
			balance, err := erc20.BalanceOf(ctx, owner)
			if err != nil {
				return nil, err
			}
			decimals, err := erc20.Decimals(ctx)
			if err != nil {
				return nil, err
			}
			return &balanceOutput{
				Token:     token.Hex(),
				Owner:     owner.Hex(),
				Balance:   balance.String(),
				Decimals:  decimals,
				Formatted: config.FormatUnits(balance, int32(decimals)),
			}, nil
		},
	}
}

type transferInput struct {
	Token  string
	To     string
	Amount string
}

func erc20TransferOperation() registered {
	return &operation[transferInput]{
		name:  "erc20-transfer",
		usage: "Transfer ERC-20 tokens from the signing account",
		params: []param{
			{name: "token", usage: "Token address or reference", required: true},
			{name: "to", usage: "Recipient address or reference; defaults to the user proxy"},
			{name: "amount", usage: "Amount in token units, scaled by the token decimals", required: true},
		},
		parse: func(in input) (transferInput, error) {
			return transferInput{Token: in.String("token"), To: in.String("to"), Amount: in.String("amount")}, nil
		},
		run: func(ctx context.Context, env *environment, in transferInput) (any, error) {
			token, err := env.resolve(in.Token)
			if err != nil {
				return nil, err
			}
			if _, err := env.requireSigner(); err != nil {
				return nil, err
			}
			s, err := env.engine(ctx)
			if err != nil {
				return nil, err
			}
			to, err := env.addressOr(in.To, s.userProxy, "to")
			if err != nil {
				return nil, err
			}

			erc20 := s.engine.Token(token)
			decimals, err := erc20.Decimals(ctx)
			if err != nil {
				return nil, err
			}
			amount, err := config.ParseUnits(in.Amount, int32(decimals))
			if err != nil {
				return nil, err
			}

			tx, err := erc20.Transfer(ctx, to, amount)
			if err != nil {
				return nil, err
			}
			env.logger.Info("tokens transferred", "token", token.Hex(), "to", to.Hex(), "amount", amount.String(), "tx", tx.Hex())
			return &txOutput{Tx: tx.Hex()}, nil
		},
	}
}
