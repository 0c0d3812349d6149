// Package calldata encodes and decodes contract calls of the Gelato
// interfaces. It implements gelato.Encoder and gelato.SlotResolver.
package calldata

import (
	"bytes"
	"embed"
	"encoding/hex"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/goerr/v2"
)

//go:embed contracts/*.json
var contractsFS embed.FS

const slotCacheSize = 256

type methodRef struct {
	iface  string
	method abi.Method
}

// Registry resolves contract interfaces by name. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	interfaces map[string]*abi.ABI
	selectors  map[[4]byte]methodRef

	slots *lru.Cache[[4]byte, int]
}

var (
	_ gelato.Encoder      = (*Registry)(nil)
	_ gelato.SlotResolver = (*Registry)(nil)
)

// New returns a Registry holding the built-in Gelato contract interfaces.
func New() (*Registry, error) {
	slots, err := lru.New[[4]byte, int](slotCacheSize)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create slot cache")
	}

	r := &Registry{
		interfaces: make(map[string]*abi.ABI),
		selectors:  make(map[[4]byte]methodRef),
		slots:      slots,
	}

	entries, err := contractsFS.ReadDir("contracts")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read embedded contracts")
	}
	for _, entry := range entries {
		data, err := contractsFS.ReadFile(path.Join("contracts", entry.Name()))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read embedded contract", goerr.V("file", entry.Name()))
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		if err := r.Register(name, bytes.NewReader(data)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds or replaces an interface from its JSON ABI.
func (r *Registry) Register(name string, abiJSON io.Reader) error {
	parsed, err := abi.JSON(abiJSON)
	if err != nil {
		return goerr.Wrap(err, "failed to parse contract ABI", goerr.V("interface", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.interfaces[name] = &parsed
	for _, m := range parsed.Methods {
		r.selectors[[4]byte(m.ID)] = methodRef{iface: name, method: m}
	}
	r.slots.Purge()
	return nil
}

// Interfaces returns the registered interface names in order.
func (r *Registry) Interfaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.interfaces))
	for name := range r.interfaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ABI returns the parsed ABI of iface.
func (r *Registry) ABI(iface string) (*abi.ABI, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	parsed, ok := r.interfaces[iface]
	if !ok {
		return nil, goerr.Wrap(gelato.ErrUnknownInterfaceOrFunction, "unknown interface",
			goerr.V("interface", iface), goerr.Tag(gelato.TagEncoding))
	}
	return parsed, nil
}

// Method resolves fn on iface. fn may be a method name, a full signature such
// as "transfer(address,uint256)" or a 0x-prefixed selector.
func (r *Registry) Method(iface, fn string) (abi.Method, error) {
	parsed, err := r.ABI(iface)
	if err != nil {
		return abi.Method{}, err
	}

	if m, ok := parsed.Methods[fn]; ok {
		return m, nil
	}
	for _, m := range parsed.Methods {
		if m.Sig == fn || "0x"+hex.EncodeToString(m.ID) == strings.ToLower(fn) {
			return m, nil
		}
	}
	return abi.Method{}, goerr.Wrap(gelato.ErrUnknownInterfaceOrFunction, "unknown function",
		goerr.V("interface", iface), goerr.V("function", fn), goerr.Tag(gelato.TagEncoding))
}

func (r *Registry) methodBySelector(data []byte) (methodRef, error) {
	if len(data) < gelato.SelectorSize {
		return methodRef{}, goerr.Wrap(gelato.ErrUnknownInterfaceOrFunction, "payload shorter than selector",
			goerr.V("length", len(data)), goerr.Tag(gelato.TagEncoding))
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	ref, ok := r.selectors[[4]byte(data[:gelato.SelectorSize])]
	if !ok {
		return methodRef{}, goerr.Wrap(gelato.ErrUnknownInterfaceOrFunction, "unknown selector",
			goerr.V("selector", "0x"+hex.EncodeToString(data[:gelato.SelectorSize])), goerr.Tag(gelato.TagEncoding))
	}
	return ref, nil
}

// Encode packs the call of fn on iface with args. Arguments are converted to
// the declared parameter types; Task, Provider, Condition and Action values
// are accepted for tuple parameters and encoded recursively.
func (r *Registry) Encode(iface, fn string, args ...any) ([]byte, error) {
	m, err := r.Method(iface, fn)
	if err != nil {
		return nil, err
	}

	eb := goerr.NewBuilder(goerr.V("interface", iface), goerr.V("function", m.Sig), goerr.Tag(gelato.TagEncoding))
	if len(args) != len(m.Inputs) {
		return nil, eb.Wrap(gelato.ErrArgumentMismatch, "wrong number of arguments",
			goerr.V("expected", len(m.Inputs)), goerr.V("actual", len(args)))
	}

	values := make([]any, len(args))
	for i, in := range m.Inputs {
		v, err := coerce(in.Type, args[i])
		if err != nil {
			return nil, eb.Wrap(err, "invalid argument", goerr.V("index", i), goerr.V("name", in.Name))
		}
		values[i] = v
	}

	packed, err := m.Inputs.Pack(values...)
	if err != nil {
		return nil, eb.Wrap(gelato.ErrArgumentMismatch, "failed to pack arguments", goerr.V("error", err.Error()))
	}
	return append(bytes.Clone(m.ID), packed...), nil
}
