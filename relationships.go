package entkv

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// RelationshipManager computes, persists and tears down the forward and
// inverse relationship indices of records. It is the only component that
// mutates relationship and sorted index entries.
//
// There is no cross-key atomicity: a failure partway through leaves the
// keys written so far in place. Mitigations are ordering (forward before
// inverse) and delta-only writes on the inverse side, not rollback.
type RelationshipManager struct {
	schema *Schema
	driver Driver
	log    *zap.SugaredLogger
}

func NewRelationshipManager(scm *Schema, drv Driver, log *zap.SugaredLogger) *RelationshipManager {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RelationshipManager{schema: scm, driver: drv, log: log}
}

// relValue is the current in-memory value of one relationship field:
// the foreign identities plus the member records they were read from
// (needed for sort property reads).
type relValue struct {
	set  bool
	ids  []string
	recs []reflect.Value
}

func (rel *Relationship) readValue(recVal reflect.Value, target *Entity) (relValue, error) {
	f := recVal.Elem().FieldByIndex(rel.fieldIndex)
	switch rel.kind {
	case RelToOne:
		if f.IsNil() {
			return relValue{}, nil
		}
		id, err := target.idOf(f)
		if err != nil {
			return relValue{}, err
		}
		if id == "" {
			return relValue{}, entityErrf(rel.source.name, rel.name, nil, "member record has empty identity")
		}
		return relValue{set: true, ids: []string{id}, recs: []reflect.Value{f}}, nil
	default:
		if f.IsNil() || f.Len() == 0 {
			return relValue{}, nil
		}
		v := relValue{set: true}
		seen := make(map[string]bool, f.Len())
		for i := 0; i < f.Len(); i++ {
			member := f.Index(i)
			if member.IsNil() {
				return relValue{}, entityErrf(rel.source.name, rel.name, nil, "nil member record")
			}
			id, err := target.idOf(member)
			if err != nil {
				return relValue{}, err
			}
			if id == "" {
				return relValue{}, entityErrf(rel.source.name, rel.name, nil, "member record has empty identity")
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			v.ids = append(v.ids, id)
			v.recs = append(v.recs, member)
		}
		return v, nil
	}
}

// InvertRelationship resolves the mirrored relationship declared on the
// target entity. A relationship without an inverse name yields ErrNoInverse;
// an inverse name that does not resolve on the target is an EntityError.
func (rm *RelationshipManager) InvertRelationship(rel *Relationship) (*Relationship, error) {
	if rel.inverse == "" {
		return nil, fmt.Errorf("%s: %w", rel.fullName(), ErrNoInverse)
	}
	target, err := rel.TargetEntity()
	if err != nil {
		return nil, err
	}
	inv := target.RelationshipNamed(rel.inverse)
	if inv == nil {
		return nil, entityErrf(target.name, rel.inverse, nil, "inverse of %s not found on target", rel.fullName())
	}
	return inv, nil
}

// PersistRelationships writes the relationship graph of a record. ent and
// localID may be zero, in which case they are resolved from the record.
//
// A brand-new record (proxy == nil) has every declared relationship
// evaluated, but an unset relationship is deliberately left alone rather
// than cleared: a freshly created record must not stomp a value a
// concurrent writer may have already set on the same identity from the
// other side. A proxy record has only the relationships flagged modified
// evaluated, and an unset value there is an explicit clear.
func (rm *RelationshipManager) PersistRelationships(rec any, ent *Entity, localID string, proxy *Proxy) error {
	recVal, ent, localID, err := rm.resolve(rec, ent, localID, proxy, false)
	if err != nil {
		return err
	}
	for _, rel := range ent.rels {
		if proxy != nil && !proxy.Modified(rel.name) {
			continue
		}
		target, err := rel.TargetEntity()
		if err != nil {
			return err
		}
		value, err := rel.readValue(recVal, target)
		if err != nil {
			return err
		}
		if !value.set && proxy == nil {
			continue
		}
		if err := rm.persistOne(recVal, ent, rel, target, localID, value); err != nil {
			return err
		}
	}
	return nil
}

func (rm *RelationshipManager) persistOne(recVal reflect.Value, ent *Entity, rel *Relationship, target *Entity, localID string, value relValue) error {
	fwdKey := relationshipKey(rel, localID)

	// Old forward state, read before any overwrite: the inverse delta and
	// the forward no-op check both need it.
	oldIDs, err := rm.currentForward(rel, fwdKey)
	if err != nil {
		return err
	}

	if sameStringSet(oldIDs, value.ids) {
		rm.log.Debugf("rel: FWD.NOOP %s/%s", rel.fullName(), localID)
	} else {
		switch rel.kind {
		case RelToOne:
			if !value.set {
				err = rm.driver.ClearValue(fwdKey)
			} else {
				err = rm.driver.SetValue(fwdKey, value.ids[0])
			}
		default:
			// Full clear-then-rewrite: the forward slot has exactly one
			// owner, so the O(n) cost is acceptable and simpler than delta.
			if err = rm.driver.ClearSet(fwdKey); err == nil && len(value.ids) > 0 {
				err = rm.driver.AddSet(fwdKey, value.ids...)
			}
		}
		if err != nil {
			return err
		}
		rm.log.Debugf("rel: FWD %s/%s => %v", rel.fullName(), localID, value.ids)
	}

	// Forward sorted indices are rebuilt whenever the relationship is
	// evaluated: membership may be unchanged while member scores drifted.
	for _, prop := range rel.sortProps {
		zk := sortedKey(rel, prop, localID)
		if err := rm.driver.ClearSorted(zk); err != nil {
			return err
		}
		for i, fid := range value.ids {
			score, err := target.scoreOf(value.recs[i], prop)
			if err != nil {
				return err
			}
			if err := rm.driver.AddSorted(zk, fid, score); err != nil {
				return err
			}
		}
	}

	if rel.inverse == "" {
		return nil
	}
	inv, err := rm.InvertRelationship(rel)
	if err != nil {
		return err
	}

	// Delta-only writes on the inverse side: inverse sets may be large and
	// shared with other owners, so they are never rewritten wholesale.
	removed, added := diffStrings(oldIDs, value.ids)
	for _, fid := range removed {
		if err := rm.removeInverse(inv, fid, localID); err != nil {
			return err
		}
	}
	for _, fid := range added {
		if err := rm.addInverse(rel, inv, recVal, ent, fid, localID); err != nil {
			return err
		}
	}
	if len(removed)+len(added) > 0 {
		rm.log.Debugf("rel: INV %s/%s -%v +%v", rel.fullName(), localID, removed, added)
	}
	return nil
}

// currentForward reads the stored forward value of a relationship.
func (rm *RelationshipManager) currentForward(rel *Relationship, fwdKey string) ([]string, error) {
	switch rel.kind {
	case RelToOne:
		v, ok, err := rm.driver.GetValue(fwdKey)
		if err != nil || !ok || v == "" {
			return nil, err
		}
		return []string{v}, nil
	default:
		return rm.driver.GetSet(fwdKey)
	}
}

// removeInverse drops localID from the inverse indices of one foreign
// record. A to-one inverse slot is cleared only if it still names localID;
// a concurrent reassignment from the other side is left alone.
func (rm *RelationshipManager) removeInverse(inv *Relationship, fid, localID string) error {
	invKey := relationshipKey(inv, fid)
	switch inv.kind {
	case RelToOne:
		cur, ok, err := rm.driver.GetValue(invKey)
		if err != nil {
			return err
		}
		if ok && cur == localID {
			if err := rm.driver.ClearValue(invKey); err != nil {
				return err
			}
		}
	default:
		if err := rm.driver.RemoveSet(invKey, localID); err != nil {
			return err
		}
	}
	for _, prop := range inv.sortProps {
		if err := rm.driver.RemoveSorted(sortedKey(inv, prop, fid), localID); err != nil {
			return err
		}
	}
	return nil
}

// addInverse adds localID to the inverse indices of one foreign record.
// When the inverse side is a to-one slot already naming another owner, that
// former owner's forward edge is broken first (single-slot exclusivity).
func (rm *RelationshipManager) addInverse(rel, inv *Relationship, recVal reflect.Value, ent *Entity, fid, localID string) error {
	invKey := relationshipKey(inv, fid)
	switch inv.kind {
	case RelToOne:
		prev, ok, err := rm.driver.GetValue(invKey)
		if err != nil {
			return err
		}
		if ok && prev != "" && prev != localID {
			if err := rm.breakFormerOwner(rel, prev, fid); err != nil {
				return err
			}
			for _, prop := range inv.sortProps {
				if err := rm.driver.RemoveSorted(sortedKey(inv, prop, fid), prev); err != nil {
					return err
				}
			}
			rm.log.Debugf("rel: INV.EVICT %s/%s: %s evicts %s", inv.fullName(), fid, localID, prev)
		}
		if err := rm.driver.SetValue(invKey, localID); err != nil {
			return err
		}
	default:
		if err := rm.driver.AddSet(invKey, localID); err != nil {
			return err
		}
	}
	for _, prop := range inv.sortProps {
		score, err := ent.scoreOf(recVal, prop)
		if err != nil {
			return err
		}
		if err := rm.driver.AddSorted(sortedKey(inv, prop, fid), localID, score); err != nil {
			return err
		}
	}
	return nil
}

// breakFormerOwner removes fid from the forward indices of the owner a
// to-one inverse slot is being taken from.
func (rm *RelationshipManager) breakFormerOwner(rel *Relationship, prevID, fid string) error {
	fwdKey := relationshipKey(rel, prevID)
	switch rel.kind {
	case RelToOne:
		if err := rm.driver.ClearValue(fwdKey); err != nil {
			return err
		}
	default:
		if err := rm.driver.RemoveSet(fwdKey, fid); err != nil {
			return err
		}
	}
	for _, prop := range rel.sortProps {
		if err := rm.driver.RemoveSorted(sortedKey(rel, prop, prevID), fid); err != nil {
			return err
		}
	}
	return nil
}

// DeleteRelationships tears down the relationship graph of a record: every
// forward index and its sorted indices are cleared, and for relationships
// with an inverse, localID is removed from every currently referenced
// foreign record's inverse indices. The identity used is the proxy's
// original identity when available, so teardown targets the record actually
// stored under that key even if the in-memory identity was mutated.
func (rm *RelationshipManager) DeleteRelationships(rec any, ent *Entity, localID string, proxy *Proxy) error {
	_, ent, localID, err := rm.resolve(rec, ent, localID, proxy, true)
	if err != nil {
		return err
	}
	for _, rel := range ent.rels {
		fwdKey := relationshipKey(rel, localID)
		current, err := rm.currentForward(rel, fwdKey)
		if err != nil {
			return err
		}
		switch rel.kind {
		case RelToOne:
			err = rm.driver.ClearValue(fwdKey)
		default:
			err = rm.driver.ClearSet(fwdKey)
		}
		if err != nil {
			return err
		}
		for _, prop := range rel.sortProps {
			if err := rm.driver.ClearSorted(sortedKey(rel, prop, localID)); err != nil {
				return err
			}
		}
		if rel.inverse != "" && len(current) > 0 {
			inv, err := rm.InvertRelationship(rel)
			if err != nil {
				return err
			}
			for _, fid := range current {
				if err := rm.removeInverse(inv, fid, localID); err != nil {
					return err
				}
			}
		}
		rm.log.Debugf("rel: DEL %s/%s -%v", rel.fullName(), localID, current)
	}
	return nil
}

func (rm *RelationshipManager) resolve(rec any, ent *Entity, localID string, proxy *Proxy, preferOriginal bool) (reflect.Value, *Entity, string, error) {
	recVal, err := recordValue(rec)
	if err != nil {
		return reflect.Value{}, nil, "", err
	}
	if ent == nil {
		if proxy != nil {
			ent = proxy.entity
		} else if ent, err = rm.schema.EntityByRecord(rec); err != nil {
			return reflect.Value{}, nil, "", err
		}
	}
	if _, err := ent.metadata(); err != nil {
		return reflect.Value{}, nil, "", err
	}
	if localID == "" {
		if preferOriginal && proxy != nil {
			localID = proxy.OriginalID()
		} else if localID, err = ent.idOf(recVal); err != nil {
			return reflect.Value{}, nil, "", err
		}
	}
	if localID == "" {
		return reflect.Value{}, nil, "", entityErrf(ent.name, "", nil, "record has empty identity")
	}
	return recVal, ent, localID, nil
}
