// Package taskfile reads declarative task cycle definitions. A file names its
// tasks, lists which of them form the submitted cycle and may embed tasks in
// one another through submit actions. References such as
// "$deployments.GelatoCore", "$addressbook.erc20.DAI" and "$userProxy" are
// resolved when the file is built.
package taskfile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-yaml"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gelato/config"
	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var ErrInvalidTaskFile = errors.New("invalid task file")

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "gelato-taskfile.schema.json"

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse task file schema")
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, goerr.Wrap(err, "failed to add task file schema")
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compile task file schema")
	}
	return sch, nil
})

// Schema returns the JSON schema task files are validated against.
func Schema() []byte {
	return bytes.Clone(schemaJSON)
}

type File struct {
	Name       string             `json:"name"`
	Provider   ProviderDef        `json:"provider"`
	ExpiryDate uint64             `json:"expiry_date"`
	Cycles     uint64             `json:"cycles"`
	Cycle      []string           `json:"cycle"`
	PreActions []ActionDef        `json:"pre_actions"`
	Tasks      map[string]TaskDef `json:"tasks"`
}

type ProviderDef struct {
	Addr   string `json:"addr"`
	Module string `json:"module"`
}

type TaskDef struct {
	Conditions           []ConditionDef `json:"conditions"`
	Actions              []ActionDef    `json:"actions"`
	SelfProviderGasLimit uint64         `json:"self_provider_gas_limit"`
	SelfProviderGasPrice *Amount        `json:"self_provider_gas_price"`
}

// Call is either raw calldata or a function of a registered interface with
// its arguments.
type Call struct {
	Interface string        `json:"interface"`
	Function  string        `json:"function"`
	Args      []any         `json:"args"`
	Data      hexutil.Bytes `json:"data"`
}

type ConditionDef struct {
	Inst string `json:"inst"`
	Call
}

type ActionDef struct {
	Addr         string          `json:"addr"`
	CallMode     gelato.CallMode `json:"call_mode"`
	DataFlow     gelato.DataFlow `json:"data_flow"`
	TermsOkCheck bool            `json:"terms_ok_check"`
	Value        *Amount         `json:"value"`
	Call

	SubmitTaskInFuture *SubmitTaskInFutureDef `json:"submit_task_in_future"`
	SubmitTaskCycle    *SubmitTaskCycleDef    `json:"submit_task_cycle"`
}

// SubmitTaskInFutureDef embeds Task into a context preserving action that
// submits it when executed. The action address defaults to the
// ActionSubmitTaskInFuture deployment.
type SubmitTaskInFutureDef struct {
	Task     string `json:"task"`
	Lifetime uint64 `json:"lifetime"`
}

// SubmitTaskCycleDef embeds a cycle into a direct call of the core's
// submitTaskCycle. The action address defaults to the GelatoCore deployment.
type SubmitTaskCycleDef struct {
	Tasks      []string `json:"tasks"`
	ExpiryDate uint64   `json:"expiry_date"`
	Cycles     uint64   `json:"cycles"`
}

// Amount is a wei amount written as an integer or as a string with an
// optional unit, e.g. "8 gwei".
type Amount struct {
	value *big.Int
}

func (x *Amount) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	var s string
	switch v := raw.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = v
	default:
		return goerr.Wrap(ErrInvalidTaskFile, "amount must be a number or a string", goerr.V("amount", string(data)))
	}
	v, err := config.ParseAmount(s)
	if err != nil {
		return err
	}
	x.value = v
	return nil
}

// Wei returns the amount, nil for a missing one.
func (x *Amount) Wei() *big.Int {
	if x == nil || x.value == nil {
		return nil
	}
	return new(big.Int).Set(x.value)
}

// Parse validates a YAML (or JSON) document against the task file schema and
// decodes it.
func Parse(data []byte) (*File, error) {
	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidTaskFile, "failed to parse task file", goerr.V("error", err.Error()))
	}

	sch, err := compileSchema()
	if err != nil {
		return nil, err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(jsonData))
	if err != nil {
		return nil, goerr.Wrap(ErrInvalidTaskFile, "failed to read task file", goerr.V("error", err.Error()))
	}
	if err := sch.Validate(inst); err != nil {
		return nil, goerr.Wrap(ErrInvalidTaskFile, "task file does not match schema", goerr.V("error", err.Error()))
	}

	var file File
	dec := json.NewDecoder(bytes.NewReader(jsonData))
	dec.UseNumber()
	if err := dec.Decode(&file); err != nil {
		return nil, goerr.Wrap(ErrInvalidTaskFile, "failed to decode task file", goerr.V("error", err.Error()))
	}
	if file.Cycles == 0 {
		file.Cycles = 1
	}
	for name := range file.Tasks {
		if name == "" {
			return nil, goerr.Wrap(ErrInvalidTaskFile, "task name must not be empty")
		}
	}
	return &file, nil
}

// Load reads and parses the task file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read task file", goerr.V("path", path))
	}
	file, err := Parse(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load task file", goerr.V("path", path))
	}
	return file, nil
}
