package entkv

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	boltValuesBucket = []byte("values")
	boltSetsBucket   = []byte("sets")
	boltZSetsBucket  = []byte("zsets")
	boltBodiesBucket = []byte("bodies")
)

// BoltDriver is a Driver backed by a Bolt database file. Scalar slots and
// bodies live in flat buckets; each multi-value and sorted index gets a
// nested bucket keyed by the index key.
type BoltDriver struct {
	bdb *bbolt.DB
	log *zap.SugaredLogger
}

func OpenBoltDriver(path string, log *zap.SugaredLogger) (*BoltDriver, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	bdb, err := bbolt.Open(path, 0666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("bolt: %w", err)
	}
	err = bdb.Update(func(btx *bbolt.Tx) error {
		for _, name := range [][]byte{boltValuesBucket, boltSetsBucket, boltZSetsBucket, boltBodiesBucket} {
			if _, err := btx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("bolt: %w", err)
	}
	return &BoltDriver{bdb: bdb, log: log}, nil
}

func (d *BoltDriver) Bolt() *bbolt.DB {
	return d.bdb
}

func (d *BoltDriver) Close() error {
	return d.bdb.Close()
}

func (d *BoltDriver) GetValue(key string) (string, bool, error) {
	var v string
	var ok bool
	err := d.bdb.View(func(btx *bbolt.Tx) error {
		raw := btx.Bucket(boltValuesBucket).Get([]byte(key))
		if raw != nil {
			v, ok = string(raw), true
		}
		return nil
	})
	return v, ok, err
}

func (d *BoltDriver) SetValue(key, value string) error {
	d.log.Debugf("bolt: SET %s => %s", key, value)
	return d.bdb.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(boltValuesBucket).Put([]byte(key), []byte(value))
	})
}

func (d *BoltDriver) ClearValue(key string) error {
	d.log.Debugf("bolt: CLEAR %s", key)
	return d.bdb.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(boltValuesBucket).Delete([]byte(key))
	})
}

func (d *BoltDriver) GetSet(key string) ([]string, error) {
	var members []string
	err := d.bdb.View(func(btx *bbolt.Tx) error {
		b := btx.Bucket(boltSetsBucket).Bucket([]byte(key))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			members = append(members, string(k))
			return nil
		})
	})
	return members, err
}

func (d *BoltDriver) AddSet(key string, members ...string) error {
	d.log.Debugf("bolt: SADD %s => %v", key, members)
	return d.bdb.Update(func(btx *bbolt.Tx) error {
		b, err := btx.Bucket(boltSetsBucket).CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return err
		}
		for _, m := range members {
			if err := b.Put([]byte(m), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *BoltDriver) RemoveSet(key string, members ...string) error {
	d.log.Debugf("bolt: SREM %s => %v", key, members)
	return d.bdb.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(boltSetsBucket).Bucket([]byte(key))
		if b == nil {
			return nil
		}
		for _, m := range members {
			if err := b.Delete([]byte(m)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *BoltDriver) ClearSet(key string) error {
	d.log.Debugf("bolt: SCLEAR %s", key)
	return d.bdb.Update(func(btx *bbolt.Tx) error {
		err := btx.Bucket(boltSetsBucket).DeleteBucket([]byte(key))
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

func (d *BoltDriver) GetSorted(key string) ([]ScoredMember, error) {
	var members []ScoredMember
	err := d.bdb.View(func(btx *bbolt.Tx) error {
		b := btx.Bucket(boltZSetsBucket).Bucket([]byte(key))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			members = append(members, ScoredMember{string(k), decodeScore(v)})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortScored(members)
	return members, nil
}

func (d *BoltDriver) AddSorted(key, member string, score float64) error {
	d.log.Debugf("bolt: ZADD %s => %s (%v)", key, member, score)
	return d.bdb.Update(func(btx *bbolt.Tx) error {
		b, err := btx.Bucket(boltZSetsBucket).CreateBucketIfNotExists([]byte(key))
		if err != nil {
			return err
		}
		return b.Put([]byte(member), encodeScore(score))
	})
}

func (d *BoltDriver) RemoveSorted(key string, members ...string) error {
	d.log.Debugf("bolt: ZREM %s => %v", key, members)
	return d.bdb.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket(boltZSetsBucket).Bucket([]byte(key))
		if b == nil {
			return nil
		}
		for _, m := range members {
			if err := b.Delete([]byte(m)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *BoltDriver) ClearSorted(key string) error {
	d.log.Debugf("bolt: ZCLEAR %s", key)
	return d.bdb.Update(func(btx *bbolt.Tx) error {
		err := btx.Bucket(boltZSetsBucket).DeleteBucket([]byte(key))
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

func (d *BoltDriver) RangeSorted(key string, min, max float64) ([]string, error) {
	var members []ScoredMember
	err := d.bdb.View(func(btx *bbolt.Tx) error {
		b := btx.Bucket(boltZSetsBucket).Bucket([]byte(key))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			if score := decodeScore(v); score >= min && score <= max {
				members = append(members, ScoredMember{string(k), score})
			}
			return nil
		})
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

func (d *BoltDriver) GetBody(key string) ([]byte, error) {
	var body []byte
	err := d.bdb.View(func(btx *bbolt.Tx) error {
		raw := btx.Bucket(boltBodiesBucket).Get([]byte(key))
		if raw != nil {
			body = append([]byte(nil), raw...)
		}
		return nil
	})
	return body, err
}

func (d *BoltDriver) SetBody(key string, body []byte) error {
	d.log.Debugf("bolt: BODY.SET %s (%d bytes)", key, len(body))
	return d.bdb.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(boltBodiesBucket).Put([]byte(key), body)
	})
}

func (d *BoltDriver) DeleteBody(key string) error {
	d.log.Debugf("bolt: BODY.DEL %s", key)
	return d.bdb.Update(func(btx *bbolt.Tx) error {
		return btx.Bucket(boltBodiesBucket).Delete([]byte(key))
	})
}

func encodeScore(score float64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(score))
	return buf[:]
}

func decodeScore(raw []byte) float64 {
	if len(raw) != 8 {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(raw))
}
