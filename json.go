package gelato

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/m-mizutani/goerr/v2"
)

// Keyed object form. Field names follow the on-chain struct members.

type conditionJSON struct {
	Inst common.Address `json:"inst"`
	Data hexutil.Bytes  `json:"data"`
}

type actionJSON struct {
	Addr         common.Address `json:"addr"`
	Data         hexutil.Bytes  `json:"data"`
	Operation    CallMode       `json:"operation"`
	DataFlow     DataFlow       `json:"dataFlow"`
	Value        *big.Int       `json:"value"`
	TermsOkCheck bool           `json:"termsOkCheck"`
}

type taskJSON struct {
	Conditions           []Condition `json:"conditions"`
	Actions              []Action    `json:"actions"`
	SelfProviderGasLimit *big.Int    `json:"selfProviderGasLimit"`
	SelfProviderGasPrice *big.Int    `json:"selfProviderGasPrice"`
}

func (c Condition) MarshalJSON() ([]byte, error) {
	return json.Marshal(conditionJSON{Inst: c.inst, Data: c.data})
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var v conditionJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return goerr.Wrap(ErrInvalidConditionSpec, "failed to decode condition", goerr.V("error", err.Error()), goerr.Tag(TagConstruction))
	}
	parsed, err := NewCondition(ConditionSpec{Inst: v.Inst, Data: v.Data})
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(actionJSON{
		Addr:         a.addr,
		Data:         a.data,
		Operation:    a.callMode,
		DataFlow:     a.dataFlow,
		Value:        a.Value(),
		TermsOkCheck: a.termsOkCheck,
	})
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var v actionJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return goerr.Wrap(ErrInvalidActionSpec, "failed to decode action", goerr.V("error", err.Error()), goerr.Tag(TagConstruction))
	}
	parsed, err := NewAction(ActionSpec{
		Addr:         v.Addr,
		Data:         v.Data,
		CallMode:     v.Operation,
		DataFlow:     v.DataFlow,
		TermsOkCheck: v.TermsOkCheck,
		Value:        v.Value,
	})
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (t Task) MarshalJSON() ([]byte, error) {
	v := taskJSON{
		Conditions:           t.conditions,
		Actions:              t.actions,
		SelfProviderGasLimit: t.SelfProviderGasLimit(),
		SelfProviderGasPrice: t.SelfProviderGasPrice(),
	}
	if v.Conditions == nil {
		v.Conditions = []Condition{}
	}
	return json.Marshal(v)
}

func (t *Task) UnmarshalJSON(data []byte) error {
	var v taskJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return goerr.Wrap(ErrInvalidTaskSpec, "failed to decode task", goerr.V("error", err.Error()), goerr.Tag(TagConstruction))
	}
	parsed, err := NewTask(TaskSpec{
		Conditions:           v.Conditions,
		Actions:              v.Actions,
		SelfProviderGasLimit: v.SelfProviderGasLimit,
		SelfProviderGasPrice: v.SelfProviderGasPrice,
	})
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseReceiptJSON decodes and validates the keyed object form of a receipt.
func ParseReceiptJSON(data []byte) (*TaskReceipt, error) {
	var r TaskReceipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, goerr.Wrap(err, "failed to decode task receipt", goerr.Tag(TagConstruction))
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
