package gelato

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/goerr/v2"
)

// ReceiptJournal remembers the receipt returned for a submission key so that
// retried or repeated submissions are not sent twice.
type ReceiptJournal interface {
	Load(ctx context.Context, key common.Hash) (*TaskReceipt, bool, error)
	Save(ctx context.Context, key common.Hash, receipt *TaskReceipt) error
}

type memoryJournal struct {
	mu       sync.RWMutex
	receipts map[common.Hash]*TaskReceipt
}

// NewMemoryJournal returns a ReceiptJournal that lives as long as the process.
func NewMemoryJournal() ReceiptJournal {
	return &memoryJournal{receipts: make(map[common.Hash]*TaskReceipt)}
}

func (x *memoryJournal) Load(_ context.Context, key common.Hash) (*TaskReceipt, bool, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	r, ok := x.receipts[key]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

func (x *memoryJournal) Save(_ context.Context, key common.Hash, receipt *TaskReceipt) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.receipts[key] = receipt.Clone()
	return nil
}

// FileJournal stores one JSON file per submission key in a directory.
type FileJournal struct {
	dir string
	mu  sync.Mutex
}

func NewFileJournal(dir string) *FileJournal {
	return &FileJournal{dir: dir}
}

func (x *FileJournal) path(key common.Hash) string {
	return filepath.Join(x.dir, key.Hex()+".json")
}

func (x *FileJournal) Load(_ context.Context, key common.Hash) (*TaskReceipt, bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	data, err := os.ReadFile(x.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, goerr.Wrap(err, "failed to read journal entry", goerr.V("key", key.Hex()))
	}

	receipt, err := ParseReceiptJSON(data)
	if err != nil {
		return nil, false, goerr.Wrap(err, "broken journal entry", goerr.V("key", key.Hex()))
	}
	return receipt, true, nil
}

func (x *FileJournal) Save(_ context.Context, key common.Hash, receipt *TaskReceipt) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := os.MkdirAll(x.dir, 0750); err != nil {
		return goerr.Wrap(err, "failed to create journal directory", goerr.V("dir", x.dir))
	}

	data, err := json.MarshalIndent(receipt, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal receipt", goerr.V("key", key.Hex()))
	}

	tmp := x.path(key) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return goerr.Wrap(err, "failed to write journal entry", goerr.V("path", tmp))
	}
	if err := os.Rename(tmp, x.path(key)); err != nil {
		return goerr.Wrap(err, "failed to commit journal entry", goerr.V("key", key.Hex()))
	}
	return nil
}
