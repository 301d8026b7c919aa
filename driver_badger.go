package entkv

import (
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const badgerMemberSep = "\x00"

// BadgerDriver is a Driver backed by a Badger database. Sets and sorted
// sets are flattened onto prefixed keys: one Badger key per member, with
// the score as the value for sorted members.
type BadgerDriver struct {
	bdb *badger.DB
	log *zap.SugaredLogger
}

// OpenBadgerDriver opens a Badger-backed driver at dir; an empty dir opens
// a transient in-memory instance.
func OpenBadgerDriver(dir string, log *zap.SugaredLogger) (*BadgerDriver, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: %w", err)
	}
	return &BadgerDriver{bdb: bdb, log: log}, nil
}

func (d *BadgerDriver) Close() error {
	return d.bdb.Close()
}

func valueKey(key string) []byte  { return []byte("v:" + key) }
func bodyKey(key string) []byte   { return []byte("b:" + key) }
func setPrefix(key string) []byte { return []byte("s:" + key + badgerMemberSep) }
func setMemberKey(key, member string) []byte {
	return []byte("s:" + key + badgerMemberSep + member)
}
func zsetPrefix(key string) []byte { return []byte("z:" + key + badgerMemberSep) }
func zsetMemberKey(key, member string) []byte {
	return []byte("z:" + key + badgerMemberSep + member)
}

func (d *BadgerDriver) get(key []byte) ([]byte, error) {
	var val []byte
	err := d.bdb.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	return val, err
}

func (d *BadgerDriver) GetValue(key string) (string, bool, error) {
	val, err := d.get(valueKey(key))
	if err != nil || val == nil {
		return "", false, err
	}
	return string(val), true, nil
}

func (d *BadgerDriver) SetValue(key, value string) error {
	d.log.Debugf("badger: SET %s => %s", key, value)
	return d.bdb.Update(func(txn *badger.Txn) error {
		return txn.Set(valueKey(key), []byte(value))
	})
}

func (d *BadgerDriver) ClearValue(key string) error {
	d.log.Debugf("badger: CLEAR %s", key)
	return d.bdb.Update(func(txn *badger.Txn) error {
		return txn.Delete(valueKey(key))
	})
}

func (d *BadgerDriver) GetSet(key string) ([]string, error) {
	prefix := setPrefix(key)
	var members []string
	err := d.bdb.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			members = append(members, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		return nil
	})
	return members, err
}

func (d *BadgerDriver) AddSet(key string, members ...string) error {
	d.log.Debugf("badger: SADD %s => %v", key, members)
	return d.bdb.Update(func(txn *badger.Txn) error {
		for _, m := range members {
			if err := txn.Set(setMemberKey(key, m), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *BadgerDriver) RemoveSet(key string, members ...string) error {
	d.log.Debugf("badger: SREM %s => %v", key, members)
	return d.bdb.Update(func(txn *badger.Txn) error {
		for _, m := range members {
			if err := txn.Delete(setMemberKey(key, m)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *BadgerDriver) ClearSet(key string) error {
	d.log.Debugf("badger: SCLEAR %s", key)
	return d.deletePrefix(setPrefix(key))
}

func (d *BadgerDriver) GetSorted(key string) ([]ScoredMember, error) {
	members, err := d.scanSorted(key, nil)
	if err != nil {
		return nil, err
	}
	sortScored(members)
	return members, nil
}

func (d *BadgerDriver) AddSorted(key, member string, score float64) error {
	d.log.Debugf("badger: ZADD %s => %s (%v)", key, member, score)
	return d.bdb.Update(func(txn *badger.Txn) error {
		return txn.Set(zsetMemberKey(key, member), encodeScore(score))
	})
}

func (d *BadgerDriver) RemoveSorted(key string, members ...string) error {
	d.log.Debugf("badger: ZREM %s => %v", key, members)
	return d.bdb.Update(func(txn *badger.Txn) error {
		for _, m := range members {
			if err := txn.Delete(zsetMemberKey(key, m)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *BadgerDriver) ClearSorted(key string) error {
	d.log.Debugf("badger: ZCLEAR %s", key)
	return d.deletePrefix(zsetPrefix(key))
}

func (d *BadgerDriver) RangeSorted(key string, min, max float64) ([]string, error) {
	members, err := d.scanSorted(key, func(score float64) bool {
		return score >= min && score <= max
	})
	if err != nil {
		return nil, err
	}
	sortScored(members)
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.ID
	}
	return ids, nil
}

func (d *BadgerDriver) scanSorted(key string, keep func(float64) bool) ([]ScoredMember, error) {
	prefix := zsetPrefix(key)
	var members []ScoredMember
	err := d.bdb.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			score := decodeScore(raw)
			if keep != nil && !keep(score) {
				continue
			}
			member := strings.TrimPrefix(string(item.Key()), string(prefix))
			members = append(members, ScoredMember{member, score})
		}
		return nil
	})
	return members, err
}

func (d *BadgerDriver) GetBody(key string) ([]byte, error) {
	return d.get(bodyKey(key))
}

func (d *BadgerDriver) SetBody(key string, body []byte) error {
	d.log.Debugf("badger: BODY.SET %s (%d bytes)", key, len(body))
	return d.bdb.Update(func(txn *badger.Txn) error {
		return txn.Set(bodyKey(key), body)
	})
}

func (d *BadgerDriver) DeleteBody(key string) error {
	d.log.Debugf("badger: BODY.DEL %s", key)
	return d.bdb.Update(func(txn *badger.Txn) error {
		return txn.Delete(bodyKey(key))
	})
}

func (d *BadgerDriver) deletePrefix(prefix []byte) error {
	return d.bdb.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
