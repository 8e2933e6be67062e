// Package memory is an in-process implementation of repository.Store.
//
// It enforces the same constraints the PostgreSQL schema does (one canonical row per
// fingerprint, first parse result wins) so that dedup behavior can be exercised without a
// database. Transactions are fully serialized against every other operation.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"paperbase/internal/model"
	"paperbase/internal/repository"
)

type state struct {
	files  map[string]model.PhysicalFile
	docs   map[string]model.Document
	fields map[string][]model.ExtractedField
}

func (s *state) clone() *state {
	out := &state{
		files:  make(map[string]model.PhysicalFile, len(s.files)),
		docs:   make(map[string]model.Document, len(s.docs)),
		fields: make(map[string][]model.ExtractedField, len(s.fields)),
	}
	for k, v := range s.files {
		out.files[k] = clonePhysicalFile(v)
	}
	for k, v := range s.docs {
		out.docs[k] = cloneDocument(v)
	}
	for k, v := range s.fields {
		out.fields[k] = append([]model.ExtractedField(nil), v...)
	}
	return out
}

// Store is safe for concurrent use.
type Store struct {
	gate *sync.RWMutex
	mu   *sync.Mutex
	data **state
	inTx bool
	now  func() time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	st := &state{
		files:  map[string]model.PhysicalFile{},
		docs:   map[string]model.Document{},
		fields: map[string][]model.ExtractedField{},
	}
	return &Store{gate: &sync.RWMutex{}, mu: &sync.Mutex{}, data: &st, now: time.Now}
}

var _ repository.Store = (*Store)(nil)

// PhysicalFiles returns the physical file repository.
func (s *Store) PhysicalFiles() repository.PhysicalFileRepository { return physicalFiles{s} }

// Documents returns the document repository.
func (s *Store) Documents() repository.DocumentRepository { return documents{s} }

// WithTx runs fn exclusively and restores the previous state if it fails.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	s.gate.Lock()
	defer s.gate.Unlock()

	s.mu.Lock()
	snapshot := (*s.data).clone()
	s.mu.Unlock()

	tx := &Store{gate: s.gate, mu: s.mu, data: s.data, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		s.mu.Lock()
		*s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// AddField seeds an extracted field for a document.
func (s *Store) AddField(f model.ExtractedField) {
	unlock := s.enter()
	defer unlock()
	st := *s.data
	st.fields[f.DocumentID] = append(st.fields[f.DocumentID], f)
}

// PhysicalFileCount returns the number of physical file rows, canonical or not.
func (s *Store) PhysicalFileCount() int {
	unlock := s.enter()
	defer unlock()
	return len((*s.data).files)
}

// enter acquires the locks for one operation and returns the release function.
func (s *Store) enter() func() {
	if !s.inTx {
		s.gate.RLock()
	}
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		if !s.inTx {
			s.gate.RUnlock()
		}
	}
}

type physicalFiles struct{ s *Store }

func (r physicalFiles) FindByFingerprint(ctx context.Context, fp string) (*model.PhysicalFile, error) {
	unlock := r.s.enter()
	defer unlock()
	for _, pf := range (*r.s.data).files {
		if pf.Canonical && pf.Fingerprint == fp {
			out := clonePhysicalFile(pf)
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r physicalFiles) FindByID(ctx context.Context, id string) (*model.PhysicalFile, error) {
	unlock := r.s.enter()
	defer unlock()
	pf, ok := (*r.s.data).files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := clonePhysicalFile(pf)
	return &out, nil
}

func (r physicalFiles) LockByID(ctx context.Context, id string) (*model.PhysicalFile, error) {
	return r.FindByID(ctx, id)
}

func (r physicalFiles) Insert(ctx context.Context, pf *model.PhysicalFile) (*model.PhysicalFile, error) {
	unlock := r.s.enter()
	defer unlock()
	st := *r.s.data
	if _, exists := st.files[pf.ID]; exists {
		return nil, repository.ErrDuplicateFingerprint
	}
	if pf.Canonical {
		for _, other := range st.files {
			if other.Canonical && other.Fingerprint == pf.Fingerprint {
				return nil, repository.ErrDuplicateFingerprint
			}
		}
	}
	stored := clonePhysicalFile(*pf)
	st.files[pf.ID] = stored
	out := clonePhysicalFile(stored)
	return &out, nil
}

func (r physicalFiles) AttachParseResult(ctx context.Context, id, jobRef string, result json.RawMessage) (bool, error) {
	unlock := r.s.enter()
	defer unlock()
	st := *r.s.data
	pf, ok := st.files[id]
	if !ok || pf.HasParseResult() {
		return false, nil
	}
	ref := jobRef
	pf.ParseJobRef = &ref
	pf.ParseResult = append(json.RawMessage(nil), result...)
	pf.ParseError = nil
	st.files[id] = pf
	return true, nil
}

func (r physicalFiles) RecordParseFailure(ctx context.Context, id, message string) error {
	unlock := r.s.enter()
	defer unlock()
	st := *r.s.data
	pf, ok := st.files[id]
	if !ok || pf.HasParseResult() {
		return nil
	}
	msg := message
	pf.ParseError = &msg
	st.files[id] = pf
	return nil
}

func (r physicalFiles) ClaimParse(ctx context.Context, id string, staleBefore time.Time) (bool, error) {
	unlock := r.s.enter()
	defer unlock()
	st := *r.s.data
	pf, ok := st.files[id]
	if !ok || pf.HasParseResult() {
		return false, nil
	}
	if pf.ParseError == nil && pf.ParseAttemptedAt != nil && !pf.ParseAttemptedAt.Before(staleBefore) {
		return false, nil
	}
	now := r.s.now()
	pf.ParseAttemptedAt = &now
	pf.ParseError = nil
	st.files[id] = pf
	return true, nil
}

func (r physicalFiles) UpdateStoragePath(ctx context.Context, id, path string) error {
	unlock := r.s.enter()
	defer unlock()
	st := *r.s.data
	pf, ok := st.files[id]
	if !ok {
		return repository.ErrNotFound
	}
	pf.StoragePath = path
	st.files[id] = pf
	return nil
}

func (r physicalFiles) CountReferences(ctx context.Context, id string) (int, error) {
	unlock := r.s.enter()
	defer unlock()
	n := 0
	for _, d := range (*r.s.data).docs {
		if d.PhysicalFileID != nil && *d.PhysicalFileID == id {
			n++
		}
	}
	return n, nil
}

type documents struct{ s *Store }

// joined returns a copy of d with its physical file attached. Caller holds the lock.
func (r documents) joined(d model.Document) model.Document {
	out := cloneDocument(d)
	out.PhysicalFile = nil
	if d.PhysicalFileID != nil {
		if pf, ok := (*r.s.data).files[*d.PhysicalFileID]; ok {
			c := clonePhysicalFile(pf)
			out.PhysicalFile = &c
		}
	}
	return out
}

func (r documents) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	unlock := r.s.enter()
	defer unlock()
	st := *r.s.data
	if _, exists := st.docs[doc.ID]; exists {
		return nil, repository.ErrDuplicateFingerprint
	}
	if doc.PhysicalFileID != nil {
		if _, ok := st.files[*doc.PhysicalFileID]; !ok {
			return nil, repository.ErrNotFound
		}
	}
	stored := cloneDocument(*doc)
	stored.PhysicalFile = nil
	st.docs[doc.ID] = stored
	out := r.joined(stored)
	return &out, nil
}

func (r documents) FindByID(ctx context.Context, id string) (*model.Document, error) {
	unlock := r.s.enter()
	defer unlock()
	d, ok := (*r.s.data).docs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := r.joined(d)
	return &out, nil
}

// LockByID is FindByID; transactions already run exclusively.
func (r documents) LockByID(ctx context.Context, id string) (*model.Document, error) {
	return r.FindByID(ctx, id)
}

func (r documents) CountUnlinkedByLegacyPath(ctx context.Context, path string) (int, error) {
	unlock := r.s.enter()
	defer unlock()
	n := 0
	for _, d := range (*r.s.data).docs {
		if !d.IsLinked() && d.LegacyFilePath != nil && *d.LegacyFilePath == path {
			n++
		}
	}
	return n, nil
}

func (r documents) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	unlock := r.s.enter()
	defer unlock()
	all := make([]model.Document, 0, len((*r.s.data).docs))
	for _, d := range (*r.s.data).docs {
		all = append(all, r.joined(d))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	total := len(all)
	start := min(pq.Offset, total)
	end := total
	if pq.Limit > 0 {
		end = min(start+pq.Limit, total)
	}
	return &repository.PageResult[model.Document]{Items: all[start:end], Total: total}, nil
}

func (r documents) ListUnlinked(ctx context.Context, afterID string, limit int) ([]model.Document, error) {
	unlock := r.s.enter()
	defer unlock()
	out := make([]model.Document, 0)
	for _, d := range (*r.s.data).docs {
		if d.IsLinked() || strings.Compare(d.ID, afterID) <= 0 {
			continue
		}
		out = append(out, r.joined(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r documents) LinkPhysicalFile(ctx context.Context, docID, physicalFileID string) (bool, error) {
	unlock := r.s.enter()
	defer unlock()
	st := *r.s.data
	d, ok := st.docs[docID]
	if !ok || d.IsLinked() {
		return false, nil
	}
	if _, ok := st.files[physicalFileID]; !ok {
		return false, repository.ErrNotFound
	}
	id := physicalFileID
	d.PhysicalFileID = &id
	d.UpdatedAt = r.s.now()
	st.docs[docID] = d
	return true, nil
}

func (r documents) Repoint(ctx context.Context, docID, physicalFileID, category string) error {
	unlock := r.s.enter()
	defer unlock()
	st := *r.s.data
	d, ok := st.docs[docID]
	if !ok {
		return repository.ErrNotFound
	}
	if _, ok := st.files[physicalFileID]; !ok {
		return repository.ErrNotFound
	}
	id := physicalFileID
	d.PhysicalFileID = &id
	d.Category = category
	d.UpdatedAt = r.s.now()
	st.docs[docID] = d
	return nil
}

func (r documents) UpdateCategory(ctx context.Context, docID, category string) error {
	unlock := r.s.enter()
	defer unlock()
	st := *r.s.data
	d, ok := st.docs[docID]
	if !ok {
		return nil
	}
	d.Category = category
	d.UpdatedAt = r.s.now()
	st.docs[docID] = d
	return nil
}

func (r documents) SetStatusByPhysicalFile(ctx context.Context, physicalFileID string, status model.DocumentStatus) (int, error) {
	unlock := r.s.enter()
	defer unlock()
	st := *r.s.data
	n := 0
	for id, d := range st.docs {
		if d.PhysicalFileID != nil && *d.PhysicalFileID == physicalFileID && d.Status != status {
			d.Status = status
			d.UpdatedAt = r.s.now()
			st.docs[id] = d
			n++
		}
	}
	return n, nil
}

func (r documents) ListFields(ctx context.Context, docID string) ([]model.ExtractedField, error) {
	unlock := r.s.enter()
	defer unlock()
	fields := append([]model.ExtractedField{}, (*r.s.data).fields[docID]...)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}

func (r documents) Delete(ctx context.Context, id string) error {
	unlock := r.s.enter()
	defer unlock()
	st := *r.s.data
	delete(st.docs, id)
	delete(st.fields, id)
	return nil
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func clonePhysicalFile(pf model.PhysicalFile) model.PhysicalFile {
	pf.ParseJobRef = cloneStr(pf.ParseJobRef)
	pf.ParseError = cloneStr(pf.ParseError)
	if pf.ParseResult != nil {
		pf.ParseResult = append(json.RawMessage(nil), pf.ParseResult...)
	}
	if pf.ParseAttemptedAt != nil {
		t := *pf.ParseAttemptedAt
		pf.ParseAttemptedAt = &t
	}
	return pf
}

func cloneDocument(d model.Document) model.Document {
	d.PhysicalFileID = cloneStr(d.PhysicalFileID)
	d.LegacyFilePath = cloneStr(d.LegacyFilePath)
	d.LegacyParseJobRef = cloneStr(d.LegacyParseJobRef)
	if d.LegacyParseResult != nil {
		d.LegacyParseResult = append(json.RawMessage(nil), d.LegacyParseResult...)
	}
	if d.PhysicalFile != nil {
		pf := clonePhysicalFile(*d.PhysicalFile)
		d.PhysicalFile = &pf
	}
	return d
}
