package gelato

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/goerr/v2"
)

// Provider pays for execution (Addr) and routes it through an execution module (Module).
// When the user pays for itself, Addr is the user's proxy.
type Provider struct {
	Addr   common.Address `json:"addr"`
	Module common.Address `json:"module"`
}

// NewProvider returns a validated Provider; both addresses are required.
func NewProvider(addr, module common.Address) (Provider, error) {
	p := Provider{Addr: addr, Module: module}
	if err := p.Validate(); err != nil {
		return Provider{}, err
	}
	return p, nil
}

// Validate reports whether both addresses are set.
func (p Provider) Validate() error {
	if p.Addr == (common.Address{}) {
		return goerr.Wrap(ErrInvalidProvider, "provider address is required", goerr.Tag(TagConstruction))
	}
	if p.Module == (common.Address{}) {
		return goerr.Wrap(ErrInvalidProvider, "provider module is required",
			goerr.V("provider", p.Addr.Hex()), goerr.Tag(TagConstruction))
	}
	return nil
}

// IsSelfProvider reports whether userProxy funds its own tasks.
func (p Provider) IsSelfProvider(userProxy common.Address) bool {
	return p.Addr == userProxy
}
