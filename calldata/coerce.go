package calldata

import (
	"encoding/json"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/goerr/v2"
	"github.com/shopspring/decimal"
)

var bigType = reflect.TypeOf(&big.Int{})

// arrayer is implemented by the gelato model types: their ToArray form matches
// the tuple layout of the contracts.
type arrayer interface {
	ToArray() []any
}

func mismatch(t abi.Type, v any, msg string) error {
	return goerr.Wrap(gelato.ErrArgumentMismatch, msg,
		goerr.V("type", t.String()),
		goerr.V("value", fmt.Sprintf("%v", v)),
		goerr.Tag(gelato.TagEncoding),
	)
}

// coerce converts v into the Go value go-ethereum packs for t.
func coerce(t abi.Type, v any) (any, error) {
	if a, ok := v.(arrayer); ok {
		v = a.ToArray()
	}
	if v == nil {
		return nil, mismatch(t, v, "nil argument")
	}

	switch t.T {
	case abi.TupleTy:
		return coerceTuple(t, v)
	case abi.SliceTy, abi.ArrayTy:
		return coerceList(t, v)
	case abi.IntTy, abi.UintTy:
		return coerceInt(t, v)
	case abi.BoolTy:
		switch v := v.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, mismatch(t, v, "not a boolean")
			}
			return b, nil
		}
		return nil, mismatch(t, v, "not a boolean")
	case abi.AddressTy:
		return coerceAddress(t, v)
	case abi.StringTy:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, mismatch(t, v, "not a string")
	case abi.BytesTy:
		return coerceBytes(t, v)
	case abi.FixedBytesTy:
		b, err := coerceBytes(t, v)
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, mismatch(t, v, "wrong byte length")
		}
		out := reflect.New(t.GetType()).Elem()
		reflect.Copy(out, reflect.ValueOf(b))
		return out.Interface(), nil
	default:
		return nil, mismatch(t, v, "unsupported parameter type")
	}
}

func coerceTuple(t abi.Type, v any) (any, error) {
	out := reflect.New(t.GetType()).Elem()

	field := func(i int, fv any) error {
		cv, err := coerce(*t.TupleElems[i], fv)
		if err != nil {
			return goerr.Wrap(err, "invalid tuple field", goerr.V("field", t.TupleRawNames[i]))
		}
		out.Field(i).Set(reflect.ValueOf(cv))
		return nil
	}

	switch v := v.(type) {
	case []any:
		if len(v) != len(t.TupleElems) {
			return nil, mismatch(t, v, "wrong number of tuple fields")
		}
		for i := range t.TupleElems {
			if err := field(i, v[i]); err != nil {
				return nil, err
			}
		}

	case map[string]any:
		for i, raw := range t.TupleRawNames {
			fv, ok := v[raw]
			if !ok {
				fv, ok = v[strings.TrimPrefix(raw, "_")]
			}
			if !ok {
				return nil, mismatch(t, v, "missing tuple field "+raw)
			}
			if err := field(i, fv); err != nil {
				return nil, err
			}
		}

	default:
		return nil, mismatch(t, v, "tuple must be a list or an object")
	}
	return out.Interface(), nil
}

func coerceList(t abi.Type, v any) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, mismatch(t, v, "not a list")
	}
	n := rv.Len()

	var out reflect.Value
	if t.T == abi.ArrayTy {
		if n != t.Size {
			return nil, mismatch(t, v, "wrong array length")
		}
		out = reflect.New(t.GetType()).Elem()
	} else {
		out = reflect.MakeSlice(t.GetType(), n, n)
	}

	for i := 0; i < n; i++ {
		cv, err := coerce(*t.Elem, rv.Index(i).Interface())
		if err != nil {
			return nil, goerr.Wrap(err, "invalid list element", goerr.V("element", i))
		}
		out.Index(i).Set(reflect.ValueOf(cv))
	}
	return out.Interface(), nil
}

func coerceInt(t abi.Type, v any) (any, error) {
	n, err := toBig(v)
	if err != nil {
		return nil, mismatch(t, v, "not an integer")
	}

	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, mismatch(t, v, "integer out of range")
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		if n.Cmp(limit) >= 0 || n.Cmp(new(big.Int).Neg(limit)) < 0 {
			return nil, mismatch(t, v, "integer out of range")
		}
	}

	goType := t.GetType()
	if goType == bigType {
		return n, nil
	}
	if t.T == abi.UintTy {
		return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil
}

// toBig accepts Go integers, *big.Int, decimal values and numeric strings
// (decimal, 0x-hex or exponent notation such as "1e18").
func toBig(v any) (*big.Int, error) {
	switch v := v.(type) {
	case *big.Int:
		if v == nil {
			return nil, goerr.New("nil integer")
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case decimal.Decimal:
		return decimalToBig(v)
	case json.Number:
		return stringToBig(v.String())
	case string:
		return stringToBig(v)
	case float64:
		return decimalToBig(decimal.NewFromFloat(v))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Int).SetUint64(rv.Uint()), nil
	}
	return nil, goerr.New("unsupported integer type", goerr.V("type", fmt.Sprintf("%T", v)))
}

func stringToBig(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if n, ok := new(big.Int).SetString(s, 0); ok {
		return n, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid integer", goerr.V("value", s))
	}
	return decimalToBig(d)
}

func decimalToBig(d decimal.Decimal) (*big.Int, error) {
	if !d.IsInteger() {
		return nil, goerr.New("value is not an integer", goerr.V("value", d.String()))
	}
	return d.BigInt(), nil
}

func coerceAddress(t abi.Type, v any) (any, error) {
	switch v := v.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		if v != nil {
			return *v, nil
		}
	case [common.AddressLength]byte:
		return common.Address(v), nil
	case string:
		if common.IsHexAddress(v) {
			return common.HexToAddress(v), nil
		}
	case []byte:
		if len(v) == common.AddressLength {
			return common.BytesToAddress(v), nil
		}
	}
	return nil, mismatch(t, v, "not an address")
}

func coerceBytes(t abi.Type, v any) ([]byte, error) {
	switch v := v.(type) {
	case []byte:
		return v, nil
	case hexutil.Bytes:
		return v, nil
	case common.Hash:
		return v.Bytes(), nil
	case string:
		b, err := hexutil.Decode(v)
		if err != nil {
			return nil, mismatch(t, v, "not 0x-prefixed hex")
		}
		return b, nil
	}
	return nil, mismatch(t, v, "not bytes")
}
