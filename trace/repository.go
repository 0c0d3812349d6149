package trace

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// DefaultPageSize is used by List when the requested page size is not positive.
const DefaultPageSize = 20

// Repository is the interface for persisting trace data.
type Repository interface {
	Save(ctx context.Context, trace *Trace) error
}

// Summary is a lightweight representation of a stored trace, derived from
// object metadata without reading the contents.
type Summary struct {
	TraceID   string    `json:"trace_id"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Page is one page of List results. NextPageToken is empty on the last page.
type Page struct {
	Traces        []Summary `json:"traces"`
	NextPageToken string    `json:"next_page_token,omitempty"`
}

// Reader reads back traces stored by a Repository.
type Reader interface {
	List(ctx context.Context, pageSize int, pageToken string) (*Page, error)
	Get(ctx context.Context, traceID string) (*Trace, error)
}

// FileRepository persists trace data as JSON files named {trace_id}.json.
type FileRepository struct {
	dir string
}

func NewFileRepository(dir string) *FileRepository {
	return &FileRepository{dir: dir}
}

func (r *FileRepository) Dir() string {
	return r.dir
}

func (r *FileRepository) Save(_ context.Context, trace *Trace) error {
	if err := os.MkdirAll(r.dir, 0750); err != nil {
		return goerr.Wrap(err, "failed to create trace directory", goerr.V("dir", r.dir))
	}

	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to marshal trace")
	}

	filePath := filepath.Join(r.dir, trace.TraceID+".json")
	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return goerr.Wrap(err, "failed to write trace file", goerr.V("path", filePath))
	}

	return nil
}

// Get loads a trace saved by Save.
func (r *FileRepository) Get(_ context.Context, traceID string) (*Trace, error) {
	if traceID == "" || traceID != filepath.Base(traceID) {
		return nil, goerr.New("invalid trace id", goerr.V("trace_id", traceID))
	}

	filePath := filepath.Join(r.dir, traceID+".json")
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read trace file", goerr.V("path", filePath))
	}

	var t Trace
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, goerr.Wrap(err, "failed to parse trace file", goerr.V("path", filePath))
	}
	return &t, nil
}

// List returns saved traces ordered by trace ID.
func (r *FileRepository) List(_ context.Context, pageSize int, pageToken string) (*Page, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read trace directory", goerr.V("dir", r.dir))
	}

	var files []os.FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, info)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name() < files[j].Name()
	})

	start := 0
	if pageToken != "" {
		last, err := base64.URLEncoding.DecodeString(pageToken)
		if err != nil {
			return nil, goerr.Wrap(err, "invalid page token", goerr.V("token", pageToken))
		}
		start = sort.Search(len(files), func(i int) bool {
			return files[i].Name() > string(last)
		})
	}

	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	end := min(start+pageSize, len(files))

	page := &Page{}
	for _, f := range files[start:end] {
		page.Traces = append(page.Traces, Summary{
			TraceID:   strings.TrimSuffix(f.Name(), ".json"),
			Size:      f.Size(),
			UpdatedAt: f.ModTime(),
		})
	}
	if end < len(files) {
		page.NextPageToken = base64.URLEncoding.EncodeToString([]byte(files[end-1].Name()))
	}
	return page, nil
}
