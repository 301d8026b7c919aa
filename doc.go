/*
Package entkv maps typed domain records onto a schemaless key-value store
and maintains a consistent bidirectional relationship graph between them.

We implement:

1. Entities, records marshaled from registered struct types and stored as
opaque bodies under deterministic keys.

2. Relationships, to-one and to-many edges between entities, with forward
and inverse indices kept as mutual mirrors, plus sorted membership indices
scored by member properties.

3. A unit of work, queueing persists and flushing bodies and relationship
indices together, with dirty tracking so unmodified data is never rewritten.

4. Lazy retrieval, wrapping hydrated records in tracking proxies and
multi-valued relationship reads in restartable, cached query results.

# Technical Details

**Keys.**
All state lives under colon-joined tuple keys in a flat namespace, so any
store with scalar values, unordered sets and scored sets can back the layer.
Drivers for Bolt, Badger and an in-memory map are included.

**Consistency.**
The underlying store offers single-key atomicity only. Forward indices are
written before inverse ones, and inverse indices receive delta-only writes,
which bounds (but does not eliminate) the window of inconsistency when a
multi-key update fails partway. There is no rollback.

**The new-record rule.**
A brand-new record with an unset relationship does not clear that
relationship's stored value. This lets a freshly created record inherit an
edge a concurrent writer set from the other side, and is intentional,
documented behavior rather than a merge policy; it applies to new records
only, never to hydrated proxies.
*/
package entkv
