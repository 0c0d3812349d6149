package simulated

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/goerr/v2"
)

type balanceKey struct {
	token common.Address
	owner common.Address
}

type ledger map[balanceKey]*big.Int

// Dispatch records one action the engine executed.
type Dispatch struct {
	ReceiptID   uint64
	ActionIndex int
	Addr        common.Address
	Data        []byte
	CallMode    gelato.CallMode
}

// Tx stages the effects of one execution. Nothing is visible outside the
// transaction until the engine commits it.
type Tx struct {
	base       ledger
	balances   ledger
	submitted  []*gelato.TaskReceipt
	dispatched []Dispatch
}

func newTx(base ledger) *Tx {
	return &Tx{base: base, balances: make(ledger)}
}

// BalanceOf returns the staged token balance of owner.
func (x *Tx) BalanceOf(token, owner common.Address) *big.Int {
	key := balanceKey{token: token, owner: owner}
	if v, ok := x.balances[key]; ok {
		return new(big.Int).Set(v)
	}
	if v, ok := x.base[key]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Transfer moves amount of token from one owner to another.
func (x *Tx) Transfer(token, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return goerr.New("negative transfer amount", goerr.V("amount", amount.String()))
	}
	fromBal := x.BalanceOf(token, from)
	if fromBal.Cmp(amount) < 0 {
		return goerr.New("insufficient balance",
			goerr.V("token", token.Hex()),
			goerr.V("owner", from.Hex()),
			goerr.V("balance", fromBal.String()),
			goerr.V("amount", amount.String()),
		)
	}
	x.balances[balanceKey{token: token, owner: from}] = fromBal.Sub(fromBal, amount)
	toBal := x.BalanceOf(token, to)
	x.balances[balanceKey{token: token, owner: to}] = toBal.Add(toBal, amount)
	return nil
}

// Mint credits amount of token to owner.
func (x *Tx) Mint(token, owner common.Address, amount *big.Int) {
	bal := x.BalanceOf(token, owner)
	x.balances[balanceKey{token: token, owner: owner}] = bal.Add(bal, amount)
}

func (x *Tx) submit(userProxy common.Address, provider gelato.Provider, cycle *gelato.TaskCycle) {
	x.submitted = append(x.submitted, cycle.FirstReceipt(userProxy, provider))
}

func (x *Tx) apply(to ledger) {
	for k, v := range x.balances {
		to[k] = v
	}
}
