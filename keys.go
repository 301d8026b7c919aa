package entkv

import (
	"net/url"
	"strings"
)

// Storage keys are colon-joined tuples. Entity, relationship and sort
// property names are validated at registration time to contain no colon
// and no control bytes (backends flatten keys with a NUL separator);
// identity values are query-escaped. Tuples of different shapes have
// different segment counts, so distinct (type, relationship, property, id)
// tuples never produce the same key.
const keySep = ":"

func escapeID(id string) string {
	return url.QueryEscape(id)
}

// entityKey addresses the serialized body of a record.
func entityKey(entity, id string) string {
	return entity + keySep + escapeID(id)
}

// relationshipKey addresses the forward index of a relationship: a scalar
// slot for to-one, a member set for to-many.
func relationshipKey(rel *Relationship, localID string) string {
	return rel.source.name + keySep + escapeID(localID) + keySep + rel.name
}

// sortedKey addresses the sorted shadow index of a relationship for one
// sortable property.
func sortedKey(rel *Relationship, prop, localID string) string {
	return rel.source.name + keySep + escapeID(localID) + keySep + rel.name + keySep + prop
}

func validKeyComponent(s string) bool {
	if s == "" || strings.Contains(s, keySep) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 {
			return false
		}
	}
	return true
}
