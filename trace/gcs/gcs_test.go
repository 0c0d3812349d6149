package gcs_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/gelato/trace/gcs"
	"github.com/m-mizutani/gt"
)

func TestRepository(t *testing.T) {
	bucket, ok := os.LookupEnv("TEST_GCS_BUCKET")
	if !ok {
		t.Skip("TEST_GCS_BUCKET is not set")
	}
	prefix := os.Getenv("TEST_GCS_PREFIX") + "gelato-test/" + uuid.NewString() + "/"

	ctx := context.Background()
	repo, err := gcs.New(ctx, bucket, prefix)
	gt.NoError(t, err)

	now := time.Now()
	tr := &trace.Trace{
		TraceID: "trace-001",
		RootSpan: &trace.Span{
			SpanID:    "root",
			Kind:      trace.SpanKindSubmission,
			Name:      "submit_task_cycle",
			StartedAt: now,
			EndedAt:   now,
			Status:    trace.SpanStatusOK,
		},
		StartedAt: now,
		EndedAt:   now,
	}
	gt.NoError(t, repo.Save(ctx, tr))

	loaded, err := repo.Get(ctx, "trace-001")
	gt.NoError(t, err)
	gt.Equal(t, loaded.TraceID, "trace-001")
	gt.Equal(t, loaded.RootSpan.Kind, trace.SpanKindSubmission)

	page, err := repo.List(ctx, 10, "")
	gt.NoError(t, err)
	gt.A(t, page.Traces).Length(1)
	gt.Equal(t, page.Traces[0].TraceID, "trace-001")
}

func TestGetRejectsInvalidID(t *testing.T) {
	repo := gcs.NewWithClient(nil, "bucket", "prefix/")
	_, err := repo.Get(context.Background(), "../other")
	gt.Error(t, err)
}
