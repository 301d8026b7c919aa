package entkv

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Schema is the registry of entity descriptors. Entities are registered at
// process start via AddEntity and the schema is immutable afterwards.
type Schema struct {
	entities            []*Entity
	entitiesByLowerName map[string]*Entity
	entitiesByType      map[reflect.Type]*Entity
}

func NewSchema() *Schema {
	return &Schema{
		entitiesByLowerName: make(map[string]*Entity),
		entitiesByType:      make(map[reflect.Type]*Entity),
	}
}

func (scm *Schema) Entities() []*Entity {
	return append([]*Entity(nil), scm.entities...)
}

func (scm *Schema) EntityNamed(name string) *Entity {
	return scm.entitiesByLowerName[strings.ToLower(name)]
}

// EntityByRecord resolves the descriptor for a record given as a pointer to
// a registered struct type. Unregistered types are an invalid-entity error.
func (scm *Schema) EntityByRecord(rec any) (*Entity, error) {
	rt := reflect.TypeOf(rec)
	if rt == nil || rt.Kind() != reflect.Ptr || rt.Elem().Kind() != reflect.Struct {
		return nil, entityErrf(fmt.Sprintf("%T", rec), "", nil, "expected pointer to a registered record type")
	}
	ent := scm.entitiesByType[rt.Elem()]
	if ent == nil {
		return nil, entityErrf(rt.Elem().Name(), "", nil, "type %v is not registered with the schema", rt.Elem())
	}
	return ent, nil
}

// EntityID reads the identity of a record registered with the schema.
func (scm *Schema) EntityID(rec any) (string, error) {
	ent, err := scm.EntityByRecord(rec)
	if err != nil {
		return "", err
	}
	recVal, err := recordValue(rec)
	if err != nil {
		return "", err
	}
	return ent.idOf(recVal)
}

// Entity describes one record type: its table name, identity field and
// declared relationships. Structural reflection is resolved lazily on first
// use and cached; a malformed type surfaces as an EntityError at that point.
type Entity struct {
	schema     *Schema
	name       string
	typ        reflect.Type // struct type
	rels       []*Relationship
	relsByName map[string]*Relationship

	metaOnce sync.Once
	meta     *structInfo
	metaErr  error
}

// AddEntity registers a record type under a table name, with its declared
// relationships. Registration misuse (non-struct type, duplicate or invalid
// names) panics; structural problems with the record type itself are
// reported later, as errors, when the entity is first used.
func AddEntity[Rec any](scm *Schema, name string, rels ...*Relationship) *Entity {
	recPtrType := reflect.TypeOf((*Rec)(nil))
	if recPtrType.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("%s: type arg to AddEntity must be a record struct, got %v", name, recPtrType.Elem()))
	}
	if !validKeyComponent(name) {
		panic(fmt.Sprintf("invalid entity name %q", name))
	}
	lower := strings.ToLower(name)
	if scm.entitiesByLowerName[lower] != nil {
		panic(fmt.Sprintf("entity %q already registered", name))
	}
	ent := &Entity{
		schema:     scm,
		name:       name,
		typ:        recPtrType.Elem(),
		relsByName: make(map[string]*Relationship),
	}
	for _, rel := range rels {
		ent.addRelationship(rel)
	}
	scm.entities = append(scm.entities, ent)
	scm.entitiesByLowerName[lower] = ent
	scm.entitiesByType[ent.typ] = ent
	return ent
}

func (ent *Entity) addRelationship(rel *Relationship) {
	if rel.source != nil {
		panic(fmt.Sprintf("relationship %q already belongs to entity %q", rel.name, rel.source.name))
	}
	if !validKeyComponent(rel.name) {
		panic(fmt.Sprintf("%s: invalid relationship name %q", ent.name, rel.name))
	}
	if !validKeyComponent(rel.target) {
		panic(fmt.Sprintf("%s.%s: invalid target entity name %q", ent.name, rel.name, rel.target))
	}
	for _, prop := range rel.sortProps {
		if !validKeyComponent(prop) {
			panic(fmt.Sprintf("%s.%s: invalid sort property name %q", ent.name, rel.name, prop))
		}
	}
	if ent.relsByName[rel.name] != nil {
		panic(fmt.Sprintf("entity %s already has relationship named %q", ent.name, rel.name))
	}
	rel.source = ent
	if rel.field == "" {
		rel.field = capitalize(rel.name)
	}
	ent.rels = append(ent.rels, rel)
	ent.relsByName[rel.name] = rel
}

func (ent *Entity) Name() string {
	return ent.name
}

func (ent *Entity) Relationships() []*Relationship {
	return append([]*Relationship(nil), ent.rels...)
}

func (ent *Entity) RelationshipNamed(name string) *Relationship {
	return ent.relsByName[name]
}

// metadata resolves and caches the structural info of the record type and
// the struct fields backing each declared relationship.
func (ent *Entity) metadata() (*structInfo, error) {
	ent.metaOnce.Do(func() {
		ent.meta, ent.metaErr = reflectEntityType(ent.name, ent.typ)
		if ent.metaErr != nil {
			return
		}
		for _, rel := range ent.rels {
			if ent.metaErr = rel.resolveField(ent.typ); ent.metaErr != nil {
				return
			}
		}
	})
	return ent.meta, ent.metaErr
}

func (ent *Entity) idOf(recVal reflect.Value) (string, error) {
	meta, err := ent.metadata()
	if err != nil {
		return "", err
	}
	return meta.id(recVal), nil
}

func (ent *Entity) scoreOf(recVal reflect.Value, prop string) (float64, error) {
	meta, err := ent.metadata()
	if err != nil {
		return 0, err
	}
	return meta.score(recVal, prop)
}

func (ent *Entity) newRecordVal() reflect.Value {
	return reflect.New(ent.typ)
}

// RelKind is the cardinality of a relationship's forward side.
type RelKind int

const (
	RelToOne RelKind = iota + 1
	RelToMany
)

func (k RelKind) String() string {
	switch k {
	case RelToOne:
		return "to-one"
	case RelToMany:
		return "to-many"
	default:
		return fmt.Sprintf("RelKind(%d)", int(k))
	}
}

// Relationship describes one named edge of an entity: its cardinality, the
// target entity, an optional inverse name on the target, optional sortable
// property names, and the struct field backing it (defaulted from the name).
type Relationship struct {
	source     *Entity
	name       string
	kind       RelKind
	target     string
	inverse    string
	sortProps  []string
	field      string
	fieldIndex []int
}

// ToOne declares a to-one relationship to the named target entity.
func ToOne(name, target string) *Relationship {
	return &Relationship{name: name, kind: RelToOne, target: target}
}

// ToMany declares a to-many relationship to the named target entity.
func ToMany(name, target string) *Relationship {
	return &Relationship{name: name, kind: RelToMany, target: target}
}

// Inverse names the mirrored relationship on the target entity.
func (rel *Relationship) Inverse(name string) *Relationship {
	rel.mustBeUnbound()
	rel.inverse = name
	return rel
}

// SortBy adds sortable property names; each maintains a sorted shadow index
// scored by that property of the member records.
func (rel *Relationship) SortBy(props ...string) *Relationship {
	rel.mustBeUnbound()
	rel.sortProps = append(rel.sortProps, props...)
	return rel
}

// Field overrides the struct field name backing the relationship.
func (rel *Relationship) Field(name string) *Relationship {
	rel.mustBeUnbound()
	rel.field = name
	return rel
}

func (rel *Relationship) mustBeUnbound() {
	if rel.source != nil {
		panic(fmt.Sprintf("relationship %s.%s cannot be changed after registration", rel.source.name, rel.name))
	}
}

func (rel *Relationship) Name() string             { return rel.name }
func (rel *Relationship) Kind() RelKind            { return rel.kind }
func (rel *Relationship) Target() string           { return rel.target }
func (rel *Relationship) InverseName() string      { return rel.inverse }
func (rel *Relationship) SortProperties() []string { return append([]string(nil), rel.sortProps...) }
func (rel *Relationship) FieldName() string        { return rel.field }

func (rel *Relationship) fullName() string {
	return rel.source.name + "." + rel.name
}

// TargetEntity resolves the descriptor of the target entity.
func (rel *Relationship) TargetEntity() (*Entity, error) {
	ent := rel.source.schema.EntityNamed(rel.target)
	if ent == nil {
		return nil, entityErrf(rel.source.name, rel.name, nil, "target entity %q is not registered", rel.target)
	}
	return ent, nil
}

func (rel *Relationship) resolveField(typ reflect.Type) error {
	f, ok := typ.FieldByName(rel.field)
	if !ok {
		return entityErrf(rel.source.name, rel.name, nil, "no field %q on %v", rel.field, typ)
	}
	ft := f.Type
	switch rel.kind {
	case RelToOne:
		if ft.Kind() != reflect.Ptr || ft.Elem().Kind() != reflect.Struct {
			return entityErrf(rel.source.name, rel.name, nil, "field %v.%s must be a pointer to the target record struct, got %v", typ, rel.field, ft)
		}
	case RelToMany:
		if ft.Kind() != reflect.Slice || ft.Elem().Kind() != reflect.Ptr || ft.Elem().Elem().Kind() != reflect.Struct {
			return entityErrf(rel.source.name, rel.name, nil, "field %v.%s must be a slice of pointers to the target record struct, got %v", typ, rel.field, ft)
		}
	}
	rel.fieldIndex = f.Index
	return nil
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
