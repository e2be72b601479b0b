package fulltext

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/calvinalkan/txcore/pkg/core"
)

// Terms splits query into lower-cased words of letters and digits.
func Terms(query string) []string {
	return strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Memory is an in-memory [Adapter]. A document matches when every query
// term is a prefix of one of its words.
type Memory struct {
	mu   sync.RWMutex
	docs map[core.Ref]memoryEntry
}

type memoryEntry struct {
	doc   Document
	words []string
}

// NewMemory returns an empty adapter.
func NewMemory() *Memory {
	return &Memory{docs: make(map[core.Ref]memoryEntry)}
}

// Index implements [Adapter].
func (m *Memory) Index(_ context.Context, doc Document) error {
	doc.Content = maps.Clone(doc.Content)

	m.mu.Lock()
	m.docs[doc.ID] = memoryEntry{doc: doc, words: words(doc.Content)}
	m.mu.Unlock()

	return nil
}

// Update implements [Adapter].
func (m *Memory) Update(_ context.Context, id core.Ref, patch Patch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.docs[id]
	if !ok {
		return ErrDocumentMissing
	}

	if patch.Space != "" {
		e.doc.Space = patch.Space
	}

	if e.doc.Content == nil {
		e.doc.Content = make(map[string]string, len(patch.Content))
	}

	maps.Copy(e.doc.Content, patch.Content)
	e.words = words(e.doc.Content)
	m.docs[id] = e

	return nil
}

// Remove implements [Adapter].
func (m *Memory) Remove(_ context.Context, id core.Ref) error {
	m.mu.Lock()
	delete(m.docs, id)
	m.mu.Unlock()

	return nil
}

// Search implements [Adapter].
func (m *Memory) Search(ctx context.Context, classes []core.Ref, query string, limit int) ([]Hit, error) {
	terms := Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	m.mu.RLock()

	var hits []Hit

	for _, e := range m.docs {
		if len(classes) > 0 && !slices.Contains(classes, e.doc.Class) {
			continue
		}

		if matchAll(e.words, terms) {
			hits = append(hits, Hit{ID: e.doc.ID, Class: e.doc.Class, AttachedTo: e.doc.AttachedTo})
		}
	}

	m.mu.RUnlock()

	slices.SortFunc(hits, func(a, b Hit) int { return strings.Compare(string(a.ID), string(b.ID)) })

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	return hits, ctx.Err()
}

// Get returns the stored entry for id.
func (m *Memory) Get(id core.Ref) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.docs[id]
	if !ok {
		return Document{}, false
	}

	d := e.doc
	d.Content = maps.Clone(e.doc.Content)

	return d, true
}

// Len returns the number of entries.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.docs)
}

// Close implements [Adapter].
func (m *Memory) Close() error { return nil }

func words(content map[string]string) []string {
	var out []string

	for _, v := range content {
		out = append(out, Terms(v)...)
	}

	slices.Sort(out)

	return slices.Compact(out)
}

func matchAll(words []string, terms []string) bool {
	for _, t := range terms {
		i, _ := slices.BinarySearch(words, t)
		if i == len(words) || !strings.HasPrefix(words[i], t) {
			return false
		}
	}

	return true
}

var _ Adapter = (*Memory)(nil)
