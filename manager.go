package entkv

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EntityManager orchestrates the unit of work: it owns a queue of pending
// writes, serializes entity bodies, and delegates relationship maintenance
// to the RelationshipManager. One EntityManager serves one cooperative call
// chain; callers needing stronger guarantees must serialize externally.
type EntityManager struct {
	schema *Schema
	driver Driver
	rels   *RelationshipManager
	enc    Encoding
	log    *zap.SugaredLogger
	queue  []pendingEntity
}

type pendingEntity struct {
	entity *Entity
	record any
	proxy  *Proxy
}

type Options struct {
	// Encoding selects the body codec; the zero value is MsgPack.
	Encoding Encoding
	// Logger is the diagnostic sink; nil means no logging.
	Logger *zap.SugaredLogger
}

func NewEntityManager(scm *Schema, drv Driver, opt Options) *EntityManager {
	log := opt.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &EntityManager{
		schema: scm,
		driver: drv,
		rels:   NewRelationshipManager(scm, drv, log),
		enc:    opt.Encoding,
		log:    log,
	}
}

func (em *EntityManager) Schema() *Schema                     { return em.schema }
func (em *EntityManager) Driver() Driver                      { return em.driver }
func (em *EntityManager) Relationships() *RelationshipManager { return em.rels }

// Persist validates a record (either a plain record pointer or a *Proxy)
// and enqueues it for the next Flush. A new record with an empty identity
// is assigned a generated one.
func (em *EntityManager) Persist(recOrProxy any) error {
	ent, rec, proxy, err := em.resolveArg(recOrProxy)
	if err != nil {
		return err
	}
	meta, err := ent.metadata()
	if err != nil {
		return err
	}
	recVal, err := recordValue(rec)
	if err != nil {
		return err
	}
	if meta.id(recVal) == "" {
		if proxy != nil {
			return entityErrf(ent.name, "", nil, "hydrated record has empty identity")
		}
		meta.setID(recVal, uuid.NewString())
	}
	em.queue = append(em.queue, pendingEntity{ent, rec, proxy})
	em.log.Debugf("em: QUEUE %s/%s", ent.name, meta.id(recVal))
	return nil
}

// Flush writes each queued record's body and then its relationship graph.
// The first failure aborts immediately; the failed entry and any entries
// after it remain queued, and keys already written are not rolled back.
func (em *EntityManager) Flush() error {
	for len(em.queue) > 0 {
		pe := em.queue[0]
		if err := em.flushOne(pe); err != nil {
			return err
		}
		em.queue[0] = pendingEntity{}
		em.queue = em.queue[1:]
	}
	return nil
}

func (em *EntityManager) flushOne(pe pendingEntity) error {
	recVal, err := recordValue(pe.record)
	if err != nil {
		return err
	}
	id, err := pe.entity.idOf(recVal)
	if err != nil {
		return err
	}
	body, err := em.enc.encodeBody(pe.record)
	if err != nil {
		return err
	}
	if err := em.driver.SetBody(entityKey(pe.entity.name, id), body); err != nil {
		return err
	}
	em.log.Debugf("em: PUT %s/%s (%d bytes)", pe.entity.name, id, len(body))
	if err := em.rels.PersistRelationships(pe.record, pe.entity, id, pe.proxy); err != nil {
		return err
	}
	if pe.proxy != nil {
		// Tracked changes are stored now; a re-flush without further Set
		// calls must issue zero relationship writes.
		clear(pe.proxy.modified)
	}
	return nil
}

// Retrieve hydrates the record stored under (entityName, id) and wraps it
// in a Proxy. ErrNotFound when no body exists.
func (em *EntityManager) Retrieve(entityName, id string) (*Proxy, error) {
	ent := em.schema.EntityNamed(entityName)
	if ent == nil {
		return nil, entityErrf(entityName, "", nil, "unknown entity")
	}
	return em.retrieveEntity(ent, id)
}

// Retrieve hydrates a record by its registered Go type.
func Retrieve[Rec any](em *EntityManager, id string) (*Proxy, error) {
	ent, err := em.schema.EntityByRecord((*Rec)(nil))
	if err != nil {
		return nil, err
	}
	return em.retrieveEntity(ent, id)
}

func (em *EntityManager) retrieveEntity(ent *Entity, id string) (*Proxy, error) {
	meta, err := ent.metadata()
	if err != nil {
		return nil, err
	}
	body, err := em.driver.GetBody(entityKey(ent.name, id))
	if err != nil {
		return nil, err
	}
	if body == nil {
		em.log.Debugf("em: GET.NOTFOUND %s/%s", ent.name, id)
		return nil, fmt.Errorf("%s/%s: %w", ent.name, id, ErrNotFound)
	}
	recVal := ent.newRecordVal()
	rec := recVal.Interface()
	if err := em.enc.decodeBody(body, rec); err != nil {
		return nil, err
	}
	// The identity may be excluded from the body (tagged msgpack:"-"); it is
	// authoritative from the key either way.
	meta.setID(recVal, id)
	em.log.Debugf("em: GET %s/%s", ent.name, id)
	return newProxy(em, ent, rec, id), nil
}

// Delete removes a record's body and tears down its relationship graph.
// For a proxy, the original identity is used, so deletion targets the
// record actually stored even if the identity field was mutated in memory.
func (em *EntityManager) Delete(recOrProxy any) error {
	ent, rec, proxy, err := em.resolveArg(recOrProxy)
	if err != nil {
		return err
	}
	var id string
	if proxy != nil {
		id = proxy.OriginalID()
	} else {
		recVal, err := recordValue(rec)
		if err != nil {
			return err
		}
		if id, err = ent.idOf(recVal); err != nil {
			return err
		}
	}
	if id == "" {
		return entityErrf(ent.name, "", nil, "record has empty identity")
	}
	if err := em.driver.DeleteBody(entityKey(ent.name, id)); err != nil {
		return err
	}
	em.log.Debugf("em: DELETE %s/%s", ent.name, id)
	return em.rels.DeleteRelationships(rec, ent, id, proxy)
}

func (em *EntityManager) resolveArg(recOrProxy any) (*Entity, any, *Proxy, error) {
	if p, ok := recOrProxy.(*Proxy); ok {
		return p.entity, p.record, p, nil
	}
	ent, err := em.schema.EntityByRecord(recOrProxy)
	if err != nil {
		return nil, nil, nil, err
	}
	return ent, recOrProxy, nil, nil
}

// PendingCount reports the number of queued, not yet flushed records.
func (em *EntityManager) PendingCount() int {
	return len(em.queue)
}
