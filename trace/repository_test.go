package trace_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/gt"
)

func newTestTrace(id string) *trace.Trace {
	now := time.Now()
	return &trace.Trace{
		TraceID: id,
		RootSpan: &trace.Span{
			SpanID:    "root",
			Kind:      trace.SpanKindSubmission,
			Name:      "submit_task_cycle",
			StartedAt: now,
			EndedAt:   now.Add(time.Second),
			Duration:  time.Second,
			Status:    trace.SpanStatusOK,
		},
		Metadata:  trace.TraceMetadata{Network: "rinkeby"},
		StartedAt: now,
		EndedAt:   now.Add(time.Second),
	}
}

func TestFileRepositorySave(t *testing.T) {
	dir := t.TempDir()
	repo := trace.NewFileRepository(dir)

	gt.NoError(t, repo.Save(context.Background(), newTestTrace("test-file-repo")))

	data, err := os.ReadFile(filepath.Join(dir, "test-file-repo.json"))
	gt.NoError(t, err)

	var loaded trace.Trace
	gt.NoError(t, json.Unmarshal(data, &loaded))
	gt.Equal(t, loaded.TraceID, "test-file-repo")
	gt.Equal(t, loaded.RootSpan.Kind, trace.SpanKindSubmission)
	gt.Equal(t, loaded.Metadata.Network, "rinkeby")
}

func TestFileRepositoryCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	repo := trace.NewFileRepository(dir)

	gt.NoError(t, repo.Save(context.Background(), newTestTrace("nested")))
	_, err := os.Stat(filepath.Join(dir, "nested.json"))
	gt.NoError(t, err)
}

func TestFileRepositoryGet(t *testing.T) {
	repo := trace.NewFileRepository(t.TempDir())
	ctx := context.Background()
	gt.NoError(t, repo.Save(ctx, newTestTrace("abc")))

	t.Run("existing trace", func(t *testing.T) {
		loaded, err := repo.Get(ctx, "abc")
		gt.NoError(t, err)
		gt.Equal(t, loaded.TraceID, "abc")
	})

	t.Run("missing trace", func(t *testing.T) {
		_, err := repo.Get(ctx, "missing")
		gt.Error(t, err)
	})

	t.Run("path traversal is rejected", func(t *testing.T) {
		_, err := repo.Get(ctx, "../abc")
		gt.Error(t, err)
	})
}

func TestFileRepositoryList(t *testing.T) {
	repo := trace.NewFileRepository(t.TempDir())
	ctx := context.Background()
	for _, id := range []string{"trace-002", "trace-001", "trace-003"} {
		gt.NoError(t, repo.Save(ctx, newTestTrace(id)))
	}

	t.Run("all traces in order", func(t *testing.T) {
		page, err := repo.List(ctx, 10, "")
		gt.NoError(t, err)
		gt.A(t, page.Traces).Length(3)
		gt.Equal(t, page.Traces[0].TraceID, "trace-001")
		gt.Equal(t, page.Traces[2].TraceID, "trace-003")
		gt.Equal(t, page.NextPageToken, "")
	})

	t.Run("pagination", func(t *testing.T) {
		first, err := repo.List(ctx, 2, "")
		gt.NoError(t, err)
		gt.A(t, first.Traces).Length(2)
		gt.NotEqual(t, first.NextPageToken, "")

		second, err := repo.List(ctx, 2, first.NextPageToken)
		gt.NoError(t, err)
		gt.A(t, second.Traces).Length(1)
		gt.Equal(t, second.Traces[0].TraceID, "trace-003")
		gt.Equal(t, second.NextPageToken, "")
	})

	t.Run("default page size", func(t *testing.T) {
		page, err := repo.List(ctx, 0, "")
		gt.NoError(t, err)
		gt.A(t, page.Traces).Length(3)
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := repo.List(ctx, 2, "!!!")
		gt.Error(t, err)
	})

	t.Run("missing directory", func(t *testing.T) {
		_, err := trace.NewFileRepository(filepath.Join(t.TempDir(), "none")).List(ctx, 2, "")
		gt.Error(t, err)
	})
}
