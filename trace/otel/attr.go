package otel

import "go.opentelemetry.io/otel/attribute"

func userProxyAttr(addr string) attribute.KeyValue {
	return attribute.String("gelato.user_proxy", addr)
}

func providerAttr(addr string) attribute.KeyValue {
	return attribute.String("gelato.provider", addr)
}

func moduleAttr(addr string) attribute.KeyValue {
	return attribute.String("gelato.provider_module", addr)
}

func taskCountAttr(n int) attribute.KeyValue {
	return attribute.Int("gelato.tasks", n)
}

func maxRepetitionsAttr(n uint64) attribute.KeyValue {
	return attribute.Int64("gelato.max_repetitions", int64(n))
}

func receiptIDAttr(id uint64) attribute.KeyValue {
	return attribute.Int64("gelato.receipt_id", int64(id))
}

func attemptsAttr(n int) attribute.KeyValue {
	return attribute.Int("gelato.attempts", n)
}

func liquidAttr(v bool) attribute.KeyValue {
	return attribute.Bool("gelato.provider_liquid", v)
}

func moduleProvidedAttr(v bool) attribute.KeyValue {
	return attribute.Bool("gelato.module_provided", v)
}

func executorAttr(addr string) attribute.KeyValue {
	return attribute.String("gelato.executor", addr)
}

func gasPriceAttr(v string) attribute.KeyValue {
	return attribute.String("gelato.gas_price", v)
}

func engineMethodAttr(method string) attribute.KeyValue {
	return attribute.String("engine.method", method)
}

func engineArgsAttr(args string) attribute.KeyValue {
	return attribute.String("engine.args", args)
}

func executionStatusAttr(status string) attribute.KeyValue {
	return attribute.String("gelato.execution_status", status)
}

func executionReasonAttr(reason string) attribute.KeyValue {
	return attribute.String("gelato.execution_reason", reason)
}

func eventDataAttr(data string) attribute.KeyValue {
	return attribute.String("event.data", data)
}
