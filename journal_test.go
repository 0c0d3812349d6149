package gelato_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/m-mizutani/gelato"
	"github.com/m-mizutani/gt"
)

func TestJournal(t *testing.T) {
	ctx := context.Background()
	key := common.HexToHash("0xabcdef")
	receipt := newSampleReceipt(t)

	testJournal := func(t *testing.T, journal gelato.ReceiptJournal) {
		_, found, err := journal.Load(ctx, key)
		gt.NoError(t, err)
		gt.False(t, found)

		gt.NoError(t, journal.Save(ctx, key, receipt))

		loaded, found, err := journal.Load(ctx, key)
		gt.NoError(t, err)
		gt.True(t, found)
		gt.True(t, loaded.Equal(receipt))

		loaded.SubmissionsLeft = 99
		again, _, err := journal.Load(ctx, key)
		gt.NoError(t, err)
		gt.Equal(t, again.SubmissionsLeft, receipt.SubmissionsLeft)
	}

	t.Run("memory", func(t *testing.T) {
		testJournal(t, gelato.NewMemoryJournal())
	})

	t.Run("file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "journal")
		testJournal(t, gelato.NewFileJournal(dir))

		entries, err := os.ReadDir(dir)
		gt.NoError(t, err)
		gt.A(t, entries).Length(1)
		gt.Equal(t, entries[0].Name(), key.Hex()+".json")
	})

	t.Run("broken file entry", func(t *testing.T) {
		dir := t.TempDir()
		gt.NoError(t, os.WriteFile(filepath.Join(dir, key.Hex()+".json"), []byte("{"), 0600))

		_, _, err := gelato.NewFileJournal(dir).Load(ctx, key)
		gt.Error(t, err)
	})
}
