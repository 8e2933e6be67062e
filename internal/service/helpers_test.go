package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"paperbase/internal/metrics"
	"paperbase/internal/parser"
	"paperbase/internal/repository/memory"
	"paperbase/internal/storage"
)

// fakeParser counts calls and echoes the content back as the result tree.
type fakeParser struct {
	calls atomic.Int32

	mu   sync.Mutex
	fail map[string]error
}

func (p *fakeParser) Parse(ctx context.Context, r io.Reader, filename string) (parser.Result, error) {
	p.calls.Add(1)
	b, err := io.ReadAll(r)
	if err != nil {
		return parser.Result{}, &parser.Error{Filename: filename, Err: err}
	}
	p.mu.Lock()
	ferr := p.fail[string(b)]
	p.mu.Unlock()
	if ferr != nil {
		return parser.Result{}, &parser.Error{Filename: filename, Err: ferr}
	}
	tree, _ := json.Marshal(map[string]string{"text": string(b)})
	return parser.Result{JobRef: fmt.Sprintf("job-%d", p.calls.Load()), Tree: tree}, nil
}

func (p *fakeParser) failOn(content string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail == nil {
		p.fail = map[string]error{}
	}
	if err == nil {
		delete(p.fail, content)
		return
	}
	p.fail[content] = err
}

type testEnv struct {
	store    *memory.Store
	objects  storage.Storage
	parser   *fakeParser
	metrics  *metrics.Metrics
	files    *PhysicalFileStore
	coord    *Coordinator
	guard    *ReorganizationGuard
	migrator *BackfillMigrator
	svc      DocumentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	objects, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	log := zerolog.Nop()
	e := &testEnv{
		store:   memory.NewStore(),
		objects: objects,
		parser:  &fakeParser{},
		metrics: m,
	}
	e.files = NewPhysicalFileStore(e.store, objects, log, 10*time.Minute)
	e.coord = NewCoordinator(e.store, e.files, e.parser, m, log, 4)
	e.guard = NewReorganizationGuard(e.store, objects, m, log)
	e.migrator = NewBackfillMigrator(e.store, e.files, objects, m, log, 2)
	e.svc = NewDocumentService(e.store, e.files, e.coord, e.guard, e.migrator)
	return e
}

func upload(name, content string) UploadFile {
	return UploadFile{
		Filename:    name,
		ContentType: "text/plain",
		Size:        int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func readObject(t *testing.T, s storage.Storage, key string) string {
	t.Helper()
	rc, _, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}
