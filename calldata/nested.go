package calldata

import (
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/goerr/v2"
)

var _ gelato.NestedTaskDecoder = (*Registry)(nil)

// NestedTasks returns the Tasks data submits when executed: the task of a
// submitTask or ActionSubmitTaskInFuture call, or the tasks of a
// submitTaskCycle or submitTaskChain call. User proxy calls are searched
// through their actions. ok is false for any other payload.
func (r *Registry) NestedTasks(data []byte) ([]gelato.Task, bool, error) {
	if len(data) < gelato.SelectorSize {
		return nil, false, nil
	}
	ref, err := r.methodBySelector(data)
	if err != nil {
		// unknown selectors cannot submit tasks this registry knows about
		return nil, false, nil
	}

	switch {
	case ref.iface == gelato.IfaceGelatoCore && ref.method.RawName == "submitTask",
		ref.iface == gelato.IfaceSubmitTaskInFuture && ref.method.RawName == gelato.FnAction:
		args, err := unpack(ref.method.Inputs, data[gelato.SelectorSize:])
		if err != nil {
			return nil, false, goerr.Wrap(err, "failed to decode task submission",
				goerr.V("interface", ref.iface), goerr.V("function", ref.method.Sig), goerr.Tag(gelato.TagEncoding))
		}
		task, err := gelato.TaskFromArray(args[1])
		if err != nil {
			return nil, false, goerr.Wrap(err, "invalid nested task", goerr.V("function", ref.method.Sig))
		}
		return []gelato.Task{task}, true, nil

	case ref.iface == gelato.IfaceGelatoCore &&
		(ref.method.RawName == gelato.FnSubmitTaskCycle || ref.method.RawName == "submitTaskChain"):
		args, err := unpack(ref.method.Inputs, data[gelato.SelectorSize:])
		if err != nil {
			return nil, false, goerr.Wrap(err, "failed to decode task submission",
				goerr.V("interface", ref.iface), goerr.V("function", ref.method.Sig), goerr.Tag(gelato.TagEncoding))
		}
		tasks, err := tasksFromWire(args[1])
		if err != nil {
			return nil, false, goerr.Wrap(err, "invalid nested tasks", goerr.V("function", ref.method.Sig))
		}
		return tasks, true, nil

	case ref.iface == gelato.IfaceUserProxy &&
		(ref.method.RawName == gelato.FnExecAction || ref.method.RawName == gelato.FnMultiExecActions):
		actions, err := r.DecodeProxyActions(data)
		if err != nil {
			return nil, false, err
		}
		var (
			out   []gelato.Task
			found bool
		)
		for _, a := range actions {
			tasks, ok, err := r.NestedTasks(a.Data())
			if err != nil {
				return nil, false, err
			}
			if ok {
				found = true
				out = append(out, tasks...)
			}
		}
		return out, found, nil
	}

	return nil, false, nil
}
