package entkv

import (
	"fmt"
	"reflect"
	"slices"
)

// Proxy is the tracking wrapper around one hydrated record. It remembers
// the identity the record was retrieved under (unaffected by later
// in-memory mutation of the identity field) and which relationship fields
// have been explicitly reassigned since hydration. The record and its proxy
// are two separate values composed together, not a subclass of the record.
type Proxy struct {
	em         *EntityManager
	entity     *Entity
	record     any
	originalID string
	modified   map[string]bool
	loaded     map[string]any
}

func newProxy(em *EntityManager, ent *Entity, rec any, id string) *Proxy {
	return &Proxy{
		em:         em,
		entity:     ent,
		record:     rec,
		originalID: id,
		modified:   make(map[string]bool),
		loaded:     make(map[string]any),
	}
}

// Record returns the wrapped record (a pointer to the hydrated struct).
func (p *Proxy) Record() any {
	return p.record
}

func (p *Proxy) Entity() *Entity {
	return p.entity
}

// OriginalID returns the identity captured at hydration.
func (p *Proxy) OriginalID() string {
	return p.originalID
}

// Modified reports whether the named relationship has been reassigned via
// Set since hydration.
func (p *Proxy) Modified(name string) bool {
	return p.modified[name]
}

// Set reassigns a relationship field and flags it modified. value must be a
// pointer to a target record for to-one, a slice of such pointers for
// to-many, or nil to clear.
func (p *Proxy) Set(name string, value any) error {
	rel := p.entity.RelationshipNamed(name)
	if rel == nil {
		return entityErrf(p.entity.name, name, nil, "no such relationship")
	}
	if _, err := p.entity.metadata(); err != nil {
		return err
	}
	f := reflect.ValueOf(p.record).Elem().FieldByIndex(rel.fieldIndex)
	if value == nil {
		f.Set(reflect.Zero(f.Type()))
	} else {
		v := reflect.ValueOf(value)
		if !v.Type().AssignableTo(f.Type()) {
			return entityErrf(p.entity.name, name, nil, "cannot assign %T to field of type %v", value, f.Type())
		}
		f.Set(v)
	}
	p.modified[name] = true
	delete(p.loaded, name)
	return nil
}

// Related lazily hydrates the target of a to-one relationship, caching the
// result for the proxy's lifetime. Returns nil when the slot is empty.
func (p *Proxy) Related(name string) (*Proxy, error) {
	rel, err := p.relNamed(name, RelToOne)
	if err != nil {
		return nil, err
	}
	if cached, ok := p.loaded[name]; ok {
		if cached == nil {
			return nil, nil
		}
		return cached.(*Proxy), nil
	}
	fid, ok, err := p.em.driver.GetValue(relationshipKey(rel, p.originalID))
	if err != nil {
		return nil, err
	}
	if !ok || fid == "" {
		p.loaded[name] = nil
		return nil, nil
	}
	target, err := rel.TargetEntity()
	if err != nil {
		return nil, err
	}
	fp, err := p.em.retrieveEntity(target, fid)
	if err != nil {
		return nil, err
	}
	p.loaded[name] = fp
	return fp, nil
}

// RelatedAll lazily fetches the membership list of a to-many relationship,
// wrapped in a QueryResult; the list is cached for the proxy's lifetime.
func (p *Proxy) RelatedAll(name string) (*QueryResult, error) {
	rel, err := p.relNamed(name, RelToMany)
	if err != nil {
		return nil, err
	}
	if cached, ok := p.loaded[name]; ok {
		return cached.(*QueryResult), nil
	}
	ids, err := p.em.driver.GetSet(relationshipKey(rel, p.originalID))
	if err != nil {
		return nil, err
	}
	target, err := rel.TargetEntity()
	if err != nil {
		return nil, err
	}
	qr := newQueryResult(p.em, target, ids)
	p.loaded[name] = qr
	return qr, nil
}

// RelatedRange fetches the members of a relationship whose sort property
// falls within [min, max], ordered by score. Not cached: the range differs
// per call.
func (p *Proxy) RelatedRange(name, prop string, min, max float64) (*QueryResult, error) {
	rel := p.entity.RelationshipNamed(name)
	if rel == nil {
		return nil, entityErrf(p.entity.name, name, nil, "no such relationship")
	}
	if !slices.Contains(rel.sortProps, prop) {
		return nil, entityErrf(p.entity.name, name, nil, "relationship does not sort by %q", prop)
	}
	ids, err := p.em.driver.RangeSorted(sortedKey(rel, prop, p.originalID), min, max)
	if err != nil {
		return nil, err
	}
	target, err := rel.TargetEntity()
	if err != nil {
		return nil, err
	}
	return newQueryResult(p.em, target, ids), nil
}

func (p *Proxy) relNamed(name string, kind RelKind) (*Relationship, error) {
	rel := p.entity.RelationshipNamed(name)
	if rel == nil {
		return nil, entityErrf(p.entity.name, name, nil, "no such relationship")
	}
	if rel.kind != kind {
		return nil, fmt.Errorf("%s is %v, not %v", rel.fullName(), rel.kind, kind)
	}
	return rel, nil
}
