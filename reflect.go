package entkv

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

const idTag = "entkv"

var typeInfoCache sync.Map

type structInfo struct {
	typ     reflect.Type // struct type, not pointer
	idField reflect.StructField
}

type typeInfoResult struct {
	info *structInfo
	err  error
}

func reflectEntityType(entityName string, typ reflect.Type) (*structInfo, error) {
	if v, ok := typeInfoCache.Load(typ); ok {
		r := v.(typeInfoResult)
		return r.info, r.err
	}
	info, err := reflectEntityTypeWithoutCache(entityName, typ)
	actual, _ := typeInfoCache.LoadOrStore(typ, typeInfoResult{info, err})
	r := actual.(typeInfoResult)
	return r.info, r.err
}

func reflectEntityTypeWithoutCache(entityName string, typ reflect.Type) (*structInfo, error) {
	if typ.Kind() != reflect.Struct {
		return nil, entityErrf(entityName, "", nil, "%v is not a struct type", typ)
	}
	var idField reflect.StructField
	var found bool
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag, _, _ := strings.Cut(f.Tag.Get(idTag), ",")
		if tag != "id" {
			continue
		}
		if found {
			return nil, entityErrf(entityName, "", nil, "%v declares more than one identity field", typ)
		}
		idField, found = f, true
	}
	if !found {
		return nil, entityErrf(entityName, "", nil, "%v declares no identity field (string field tagged `entkv:\"id\"`)", typ)
	}
	if !idField.IsExported() {
		return nil, entityErrf(entityName, "", nil, "identity field %v.%s must be exported", typ, idField.Name)
	}
	if idField.Type.Kind() != reflect.String {
		return nil, entityErrf(entityName, "", nil, "identity field %v.%s must be a string, got %v", typ, idField.Name, idField.Type)
	}
	return &structInfo{typ: typ, idField: idField}, nil
}

// id reads the identity of a record given as a pointer-to-struct value.
func (si *structInfo) id(recVal reflect.Value) string {
	return recVal.Elem().FieldByIndex(si.idField.Index).String()
}

func (si *structInfo) setID(recVal reflect.Value, id string) {
	recVal.Elem().FieldByIndex(si.idField.Index).SetString(id)
}

// score reads the named sortable property of a record as a float64.
func (si *structInfo) score(recVal reflect.Value, prop string) (float64, error) {
	f := recVal.Elem().FieldByName(prop)
	if !f.IsValid() {
		return 0, entityErrf(si.typ.Name(), "", nil, "no sortable property %q on %v", prop, si.typ)
	}
	switch f.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(f.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(f.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return f.Float(), nil
	default:
		return 0, entityErrf(si.typ.Name(), "", nil, "sortable property %q on %v must be numeric, got %v", prop, si.typ, f.Type())
	}
}

func recordValue(rec any) (reflect.Value, error) {
	rv := reflect.ValueOf(rec)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("expected non-nil pointer to a record struct, got %T", rec)
	}
	return rv, nil
}
