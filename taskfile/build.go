package taskfile

import (
	"context"
	"encoding/json"
	"math/big"
	"regexp"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gelato/config"
	"github.com/m-mizutani/goerr/v2"
)

const (
	refUserProxy = "$userProxy"
	refProvider  = "$provider"
	refTask      = "$task."

	defaultCore               = "$deployments." + config.DeploymentCore
	defaultSubmitTaskInFuture = "$deployments." + config.DeploymentSubmitTaskInFuture
)

var unitAmount = regexp.MustCompile(`^[0-9][0-9.]*(e[0-9]+)?\s*(wei|kwei|mwei|gwei|szabo|finney|ether)$`)

// Resolver turns "$deployments.*" and "$addressbook.*" references into
// addresses. *config.Config implements it.
type Resolver interface {
	Resolve(ref string) (common.Address, error)
}

// Plan is a built task file, ready to be submitted.
type Plan struct {
	Name       string
	Provider   gelato.Provider
	Cycle      *gelato.TaskCycle
	PreActions []gelato.Action
	// Tasks holds every built task by name, including the embedded ones.
	Tasks map[string]gelato.Task
}

// Submit sends the plan through client.
func (x *Plan) Submit(ctx context.Context, client *gelato.Client, options ...gelato.SubmitOption) (*gelato.TaskReceipt, error) {
	options = append([]gelato.SubmitOption{gelato.WithPreActions(x.PreActions...)}, options...)
	return client.SubmitTaskCycle(ctx, x.Provider, x.Cycle, options...)
}

type Builder struct {
	encoder   gelato.Encoder
	resolver  Resolver
	userProxy common.Address
}

// NewBuilder creates a Builder. userProxy is what "$userProxy" resolves to and
// may be zero when the file does not use it.
func NewBuilder(encoder gelato.Encoder, resolver Resolver, userProxy common.Address) *Builder {
	return &Builder{
		encoder:   encoder,
		resolver:  resolver,
		userProxy: userProxy,
	}
}

// build holds the state of one Build call.
type build struct {
	*Builder
	file     *File
	provider gelato.Provider
	tasks    map[string]gelato.Task
	visiting map[string]bool
}

func (x *Builder) Build(ctx context.Context, file *File) (*Plan, error) {
	b := &build{
		Builder:  x,
		file:     file,
		tasks:    make(map[string]gelato.Task),
		visiting: make(map[string]bool),
	}

	addr, err := b.address(file.Provider.Addr)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid provider address")
	}
	module, err := b.address(file.Provider.Module)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid provider module")
	}
	if b.provider, err = gelato.NewProvider(addr, module); err != nil {
		return nil, err
	}

	tasks, err := b.taskList(file.Cycle)
	if err != nil {
		return nil, err
	}
	cycle, err := gelato.NewTaskCycle(tasks, file.ExpiryDate, file.Cycles)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Name:     file.Name,
		Provider: b.provider,
		Cycle:    cycle,
	}
	for i, def := range file.PreActions {
		action, err := b.action(def)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid pre action", goerr.V("action_index", i))
		}
		plan.PreActions = append(plan.PreActions, action)
	}

	// Tasks not reachable from the cycle are built too so that every
	// definition in the file is checked.
	for _, name := range sortedNames(file.Tasks) {
		if _, err := b.task(name); err != nil {
			return nil, err
		}
	}
	plan.Tasks = b.tasks

	gelato.LoggerFromContext(ctx).Debug("task file built",
		"name", file.Name,
		"provider", b.provider.Addr.Hex(),
		"cycle_tasks", len(cycle.Tasks),
		"defined_tasks", len(b.tasks),
		"pre_actions", len(plan.PreActions),
	)
	return plan, nil
}

func (x *build) taskList(names []string) ([]gelato.Task, error) {
	tasks := make([]gelato.Task, 0, len(names))
	for _, name := range names {
		t, err := x.task(name)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (x *build) task(name string) (gelato.Task, error) {
	if t, ok := x.tasks[name]; ok {
		return t, nil
	}
	def, ok := x.file.Tasks[name]
	if !ok {
		return gelato.Task{}, goerr.Wrap(ErrInvalidTaskFile, "undefined task", goerr.V("task", name))
	}
	if x.visiting[name] {
		return gelato.Task{}, goerr.Wrap(ErrInvalidTaskFile, "task embeds itself", goerr.V("task", name))
	}
	x.visiting[name] = true
	defer delete(x.visiting, name)

	spec := gelato.TaskSpec{
		SelfProviderGasLimit: new(big.Int).SetUint64(def.SelfProviderGasLimit),
		SelfProviderGasPrice: def.SelfProviderGasPrice.Wei(),
	}
	for i, c := range def.Conditions {
		condition, err := x.condition(c)
		if err != nil {
			return gelato.Task{}, goerr.Wrap(err, "invalid condition", goerr.V("task", name), goerr.V("condition_index", i))
		}
		spec.Conditions = append(spec.Conditions, condition)
	}
	for i, a := range def.Actions {
		action, err := x.action(a)
		if err != nil {
			return gelato.Task{}, goerr.Wrap(err, "invalid action", goerr.V("task", name), goerr.V("action_index", i))
		}
		spec.Actions = append(spec.Actions, action)
	}

	t, err := gelato.NewTask(spec)
	if err != nil {
		return gelato.Task{}, goerr.Wrap(err, "invalid task", goerr.V("task", name))
	}
	if resolver, ok := x.encoder.(gelato.SlotResolver); ok {
		if err := t.CheckPlaceholders(resolver); err != nil {
			return gelato.Task{}, goerr.Wrap(err, "invalid task", goerr.V("task", name))
		}
	}
	x.tasks[name] = t
	return t, nil
}

func (x *build) condition(def ConditionDef) (gelato.Condition, error) {
	inst, err := x.address(def.Inst)
	if err != nil {
		return gelato.Condition{}, err
	}
	data, err := x.calldata(def.Call)
	if err != nil {
		return gelato.Condition{}, err
	}
	return gelato.NewCondition(gelato.ConditionSpec{Inst: inst, Data: data})
}

func (x *build) action(def ActionDef) (gelato.Action, error) {
	switch {
	case def.SubmitTaskInFuture != nil:
		addr, err := x.addressOr(def.Addr, defaultSubmitTaskInFuture)
		if err != nil {
			return gelato.Action{}, err
		}
		task, err := x.task(def.SubmitTaskInFuture.Task)
		if err != nil {
			return gelato.Action{}, err
		}
		return gelato.NewSubmitTaskInFutureAction(x.encoder, addr, x.provider, task, def.SubmitTaskInFuture.Lifetime)

	case def.SubmitTaskCycle != nil:
		core, err := x.addressOr(def.Addr, defaultCore)
		if err != nil {
			return gelato.Action{}, err
		}
		tasks, err := x.taskList(def.SubmitTaskCycle.Tasks)
		if err != nil {
			return gelato.Action{}, err
		}
		cycles := def.SubmitTaskCycle.Cycles
		if cycles == 0 {
			cycles = 1
		}
		cycle, err := gelato.NewTaskCycle(tasks, def.SubmitTaskCycle.ExpiryDate, cycles)
		if err != nil {
			return gelato.Action{}, err
		}
		return gelato.NewSubmitTaskCycleAction(x.encoder, core, x.provider, cycle)
	}

	addr, err := x.address(def.Addr)
	if err != nil {
		return gelato.Action{}, err
	}
	data, err := x.calldata(def.Call)
	if err != nil {
		return gelato.Action{}, err
	}
	return gelato.NewAction(gelato.ActionSpec{
		Addr:         addr,
		Data:         data,
		CallMode:     def.CallMode,
		DataFlow:     def.DataFlow,
		TermsOkCheck: def.TermsOkCheck,
		Value:        def.Value.Wei(),
	})
}

func (x *build) calldata(call Call) ([]byte, error) {
	if len(call.Data) > 0 {
		return call.Data, nil
	}
	if call.Interface == "" || call.Function == "" {
		return nil, goerr.Wrap(ErrInvalidTaskFile, "either data or interface and function are required")
	}

	args := make([]any, len(call.Args))
	for i, arg := range call.Args {
		v, err := x.arg(arg)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid argument", goerr.V("arg_index", i), goerr.V("function", call.Function))
		}
		args[i] = v
	}
	return x.encoder.Encode(call.Interface, call.Function, args...)
}

// arg resolves references inside a call argument. Numbers stay json.Number
// so the encoder can coerce them to the parameter type.
func (x *build) arg(v any) (any, error) {
	switch v := v.(type) {
	case string:
		switch {
		case v == refProvider:
			return x.provider, nil
		case strings.HasPrefix(v, refTask):
			return x.task(strings.TrimPrefix(v, refTask))
		case strings.HasPrefix(v, "$"):
			return x.address(v)
		case unitAmount.MatchString(strings.ToLower(v)):
			return config.ParseAmount(v)
		}
		return v, nil

	case []any:
		out := make([]any, len(v))
		for i := range v {
			resolved, err := x.arg(v[i])
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	case map[string]any:
		units, ok := v["units"].(string)
		if !ok {
			return nil, goerr.Wrap(ErrInvalidTaskFile, "object arguments must be {units, decimals}")
		}
		decimals, ok := v["decimals"].(json.Number)
		if !ok {
			return nil, goerr.Wrap(ErrInvalidTaskFile, "units argument requires decimals", goerr.V("units", units))
		}
		d, err := decimals.Int64()
		if err != nil || d < 0 || d > 77 {
			return nil, goerr.Wrap(ErrInvalidTaskFile, "invalid decimals", goerr.V("decimals", decimals.String()))
		}
		return config.ParseUnits(units, int32(d))
	}
	return v, nil
}

func (x *build) address(ref string) (common.Address, error) {
	switch {
	case ref == refUserProxy:
		if x.userProxy == (common.Address{}) {
			return common.Address{}, goerr.Wrap(ErrInvalidTaskFile, "$userProxy is used but no user proxy is known")
		}
		return x.userProxy, nil
	case common.IsHexAddress(ref):
		return common.HexToAddress(ref), nil
	case x.resolver == nil:
		return common.Address{}, goerr.Wrap(ErrInvalidTaskFile, "no resolver for reference", goerr.V("ref", ref))
	}
	return x.resolver.Resolve(ref)
}

func (x *build) addressOr(ref, fallback string) (common.Address, error) {
	if ref == "" {
		ref = fallback
	}
	return x.address(ref)
}

func sortedNames(m map[string]TaskDef) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
