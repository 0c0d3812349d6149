// Package gcs stores traces as JSON objects in a Cloud Storage bucket.
package gcs

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/gelato/trace"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
)

// Repository implements trace.Repository and trace.Reader on a bucket.
// Objects are named {prefix}{trace_id}.json.
type Repository struct {
	bucket string
	prefix string
	client *storage.Client
}

var (
	_ trace.Repository = (*Repository)(nil)
	_ trace.Reader     = (*Repository)(nil)
)

// New creates a Repository with a client using application default credentials.
func New(ctx context.Context, bucket, prefix string) (*Repository, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Cloud Storage client")
	}
	return NewWithClient(client, bucket, prefix), nil
}

// NewWithClient creates a Repository on an existing client.
func NewWithClient(client *storage.Client, bucket, prefix string) *Repository {
	return &Repository{
		bucket: bucket,
		prefix: prefix,
		client: client,
	}
}

func (r *Repository) objectName(traceID string) string {
	return r.prefix + traceID + ".json"
}

func (r *Repository) Save(ctx context.Context, t *trace.Trace) error {
	name := r.objectName(t.TraceID)
	w := r.client.Bucket(r.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "application/json"

	if err := json.NewEncoder(w).Encode(t); err != nil {
		_ = w.Close()
		return goerr.Wrap(err, "failed to write trace object",
			goerr.V("bucket", r.bucket),
			goerr.V("object", name),
		)
	}
	if err := w.Close(); err != nil {
		return goerr.Wrap(err, "failed to close trace object",
			goerr.V("bucket", r.bucket),
			goerr.V("object", name),
		)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, pageSize int, pageToken string) (*trace.Page, error) {
	if pageSize <= 0 {
		pageSize = trace.DefaultPageSize
	}

	it := r.client.Bucket(r.bucket).Objects(ctx, &storage.Query{Prefix: r.prefix})
	pager := iterator.NewPager(it, pageSize, pageToken)

	var attrs []*storage.ObjectAttrs
	next, err := pager.NextPage(&attrs)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list trace objects",
			goerr.V("bucket", r.bucket),
			goerr.V("prefix", r.prefix),
		)
	}

	page := &trace.Page{NextPageToken: next}
	for _, attr := range attrs {
		if s, ok := r.summary(attr); ok {
			page.Traces = append(page.Traces, s)
		}
	}
	return page, nil
}

func (r *Repository) summary(attr *storage.ObjectAttrs) (trace.Summary, bool) {
	if !strings.HasSuffix(attr.Name, ".json") {
		return trace.Summary{}, false
	}
	traceID := strings.TrimSuffix(strings.TrimPrefix(attr.Name, r.prefix), ".json")
	if traceID == "" || strings.Contains(traceID, "/") {
		return trace.Summary{}, false
	}
	return trace.Summary{
		TraceID:   traceID,
		Size:      attr.Size,
		UpdatedAt: attr.Updated,
	}, true
}

func (r *Repository) Get(ctx context.Context, traceID string) (*trace.Trace, error) {
	if traceID == "" || strings.Contains(traceID, "/") {
		return nil, goerr.New("invalid trace id", goerr.V("trace_id", traceID))
	}

	name := r.objectName(traceID)
	reader, err := r.client.Bucket(r.bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read trace object",
			goerr.V("bucket", r.bucket),
			goerr.V("object", name),
		)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read trace data",
			goerr.V("bucket", r.bucket),
			goerr.V("object", name),
		)
	}

	var t trace.Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, goerr.Wrap(err, "failed to parse trace data",
			goerr.V("bucket", r.bucket),
			goerr.V("object", name),
		)
	}
	return &t, nil
}
