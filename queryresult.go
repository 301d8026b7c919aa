package entkv

import (
	"fmt"
	"slices"
)

// QueryResult is a read-only view over a fixed ordered list of foreign
// identities, hydrating records lazily through the EntityManager and
// caching each hydrated record by identity for the result's lifetime.
type QueryResult struct {
	em     *EntityManager
	entity *Entity
	ids    []string
	cache  map[string]*Proxy
}

func newQueryResult(em *EntityManager, ent *Entity, ids []string) *QueryResult {
	return &QueryResult{
		em:     em,
		entity: ent,
		ids:    ids,
		cache:  make(map[string]*Proxy),
	}
}

func (qr *QueryResult) Len() int {
	return len(qr.ids)
}

// IDs returns a copy of the identity list in result order.
func (qr *QueryResult) IDs() []string {
	return append([]string(nil), qr.ids...)
}

func (qr *QueryResult) Contains(id string) bool {
	return slices.Contains(qr.ids, id)
}

// At hydrates the record at the given position.
func (qr *QueryResult) At(i int) (*Proxy, error) {
	if i < 0 || i >= len(qr.ids) {
		return nil, fmt.Errorf("position %d out of range [0, %d)", i, len(qr.ids))
	}
	return qr.hydrate(qr.ids[i])
}

// Get hydrates the record with the given identity; ErrNotFound if the
// identity is not part of the result.
func (qr *QueryResult) Get(id string) (*Proxy, error) {
	if !qr.Contains(id) {
		return nil, fmt.Errorf("%s/%s not in result: %w", qr.entity.name, id, ErrNotFound)
	}
	return qr.hydrate(id)
}

func (qr *QueryResult) hydrate(id string) (*Proxy, error) {
	if p := qr.cache[id]; p != nil {
		return p, nil
	}
	p, err := qr.em.retrieveEntity(qr.entity, id)
	if err != nil {
		return nil, err
	}
	qr.cache[id] = p
	return p, nil
}

// SetAt always fails: results are read-only.
func (qr *QueryResult) SetAt(i int, value any) error {
	return ErrReadOnlyResult
}

// Remove always fails: results are read-only.
func (qr *QueryResult) Remove(id string) error {
	return ErrReadOnlyResult
}

// Cursor returns a restartable forward cursor positioned before the first
// element.
func (qr *QueryResult) Cursor() *Cursor {
	return &Cursor{qr: qr, pos: -1}
}

// Cursor iterates a QueryResult:
//
//	for c := qr.Cursor(); c.Next(); {
//	    p, err := c.Proxy()
//	    ...
//	}
type Cursor struct {
	qr  *QueryResult
	pos int
}

// Next advances the cursor and reports whether an element is available.
func (c *Cursor) Next() bool {
	if c.pos+1 >= len(c.qr.ids) {
		return false
	}
	c.pos++
	return true
}

// ID returns the identity at the current position.
func (c *Cursor) ID() string {
	return c.qr.ids[c.pos]
}

// Proxy hydrates the record at the current position.
func (c *Cursor) Proxy() (*Proxy, error) {
	return c.qr.hydrate(c.qr.ids[c.pos])
}

// Reset repositions the cursor before the first element.
func (c *Cursor) Reset() {
	c.pos = -1
}
