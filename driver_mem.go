package entkv

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// MemDriver is a transient in-memory Driver intended for tests and
// prototyping. Safe for concurrent use.
type MemDriver struct {
	mu     sync.Mutex
	log    *zap.SugaredLogger
	values map[string]string
	sets   map[string]map[string]struct{}
	zsets  map[string]map[string]float64
	bodies map[string][]byte
}

func NewMemDriver(log *zap.SugaredLogger) *MemDriver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MemDriver{
		log:    log,
		values: make(map[string]string),
		sets:   make(map[string]map[string]struct{}),
		zsets:  make(map[string]map[string]float64),
		bodies: make(map[string][]byte),
	}
}

func (d *MemDriver) GetValue(key string) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.values[key]
	return v, ok, nil
}

func (d *MemDriver) SetValue(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.values[key] = value
	d.log.Debugf("mem: SET %s => %s", key, value)
	return nil
}

func (d *MemDriver) ClearValue(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.values, key)
	d.log.Debugf("mem: CLEAR %s", key)
	return nil
}

func (d *MemDriver) GetSet(key string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.sets[key]
	if len(set) == 0 {
		return nil, nil
	}
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	sort.Strings(members)
	return members, nil
}

func (d *MemDriver) AddSet(key string, members ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.sets[key]
	if set == nil {
		set = make(map[string]struct{})
		d.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	d.log.Debugf("mem: SADD %s => %v", key, members)
	return nil
}

func (d *MemDriver) RemoveSet(key string, members ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.sets[key]
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(d.sets, key)
	}
	d.log.Debugf("mem: SREM %s => %v", key, members)
	return nil
}

func (d *MemDriver) ClearSet(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sets, key)
	d.log.Debugf("mem: SCLEAR %s", key)
	return nil
}

func (d *MemDriver) GetSorted(key string) ([]ScoredMember, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	zset := d.zsets[key]
	if len(zset) == 0 {
		return nil, nil
	}
	members := make([]ScoredMember, 0, len(zset))
	for m, score := range zset {
		members = append(members, ScoredMember{m, score})
	}
	sortScored(members)
	return members, nil
}

func (d *MemDriver) AddSorted(key, member string, score float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	zset := d.zsets[key]
	if zset == nil {
		zset = make(map[string]float64)
		d.zsets[key] = zset
	}
	zset[member] = score
	d.log.Debugf("mem: ZADD %s => %s (%v)", key, member, score)
	return nil
}

func (d *MemDriver) RemoveSorted(key string, members ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	zset := d.zsets[key]
	for _, m := range members {
		delete(zset, m)
	}
	if len(zset) == 0 {
		delete(d.zsets, key)
	}
	d.log.Debugf("mem: ZREM %s => %v", key, members)
	return nil
}

func (d *MemDriver) ClearSorted(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.zsets, key)
	d.log.Debugf("mem: ZCLEAR %s", key)
	return nil
}

func (d *MemDriver) RangeSorted(key string, min, max float64) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	zset := d.zsets[key]
	var members []ScoredMember
	for m, score := range zset {
		if score >= min && score <= max {
			members = append(members, ScoredMember{m, score})
		}
	}
	sortScored(members)
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids, nil
}

func (d *MemDriver) GetBody(key string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	body := d.bodies[key]
	if body == nil {
		return nil, nil
	}
	return append([]byte(nil), body...), nil
}

func (d *MemDriver) SetBody(key string, body []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bodies[key] = append([]byte(nil), body...)
	d.log.Debugf("mem: BODY.SET %s (%d bytes)", key, len(body))
	return nil
}

func (d *MemDriver) DeleteBody(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bodies, key)
	d.log.Debugf("mem: BODY.DEL %s", key)
	return nil
}

func (d *MemDriver) Close() error {
	return nil
}

func sortScored(members []ScoredMember) {
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].ID < members[j].ID
	})
}
