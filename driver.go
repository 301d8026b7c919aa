package entkv

// ScoredMember is one entry of a sorted index.
type ScoredMember struct {
	ID    string
	Score float64
}

// Driver is the primitive key-value contract the persistence layer runs on.
// Implementations must make each single-key operation atomic; no multi-key
// atomicity or cross-key ordering is expected or provided. Diagnostic
// logging is a dependency of each backend rather than part of the contract.
type Driver interface {
	// Single-value index: scalar key to optional foreign id.
	GetValue(key string) (value string, ok bool, err error)
	SetValue(key, value string) error
	ClearValue(key string) error

	// Multi-value index: key to unordered set of foreign ids.
	// GetSet returns members in unspecified order; an absent key yields nil.
	GetSet(key string) ([]string, error)
	AddSet(key string, members ...string) error
	RemoveSet(key string, members ...string) error
	ClearSet(key string) error

	// Sorted index: key to set of (foreign id, score).
	GetSorted(key string) ([]ScoredMember, error)
	AddSorted(key, member string, score float64) error
	RemoveSorted(key string, members ...string) error
	ClearSorted(key string) error
	// RangeSorted returns the ids of members with min <= score <= max,
	// ordered by ascending score, ties by id.
	RangeSorted(key string, min, max float64) ([]string, error)

	// Raw entity bodies. GetBody returns nil for an absent key.
	GetBody(key string) ([]byte, error)
	SetBody(key string, body []byte) error
	DeleteBody(key string) error

	Close() error
}
