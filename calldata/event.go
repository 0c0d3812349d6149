package calldata

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/goerr/v2"
)

// EventID returns the topic identifying event of iface in logs.
func (r *Registry) EventID(iface, event string) (common.Hash, error) {
	a, err := r.ABI(iface)
	if err != nil {
		return common.Hash{}, err
	}
	ev, ok := a.Events[event]
	if !ok {
		return common.Hash{}, goerr.Wrap(gelato.ErrUnknownInterfaceOrFunction, "unknown event",
			goerr.V("interface", iface), goerr.V("event", event), goerr.Tag(gelato.TagEncoding))
	}
	return ev.ID, nil
}

// DecodeEventData unpacks the non-indexed fields of event from log data.
func (r *Registry) DecodeEventData(iface, event string, data []byte) ([]any, error) {
	a, err := r.ABI(iface)
	if err != nil {
		return nil, err
	}
	ev, ok := a.Events[event]
	if !ok {
		return nil, goerr.Wrap(gelato.ErrUnknownInterfaceOrFunction, "unknown event",
			goerr.V("interface", iface), goerr.V("event", event), goerr.Tag(gelato.TagEncoding))
	}
	return unpack(ev.Inputs.NonIndexed(), data)
}
