package entkv

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"go.mongodb.org/mongo-driver/bson"
)

// Encoding selects the codec used for entity bodies. Bodies are opaque to
// the Driver; all index keys and members stay plain strings regardless.
type Encoding int

const (
	MsgPack Encoding = iota
	JSON
	BSON
)

func (enc Encoding) String() string {
	switch enc {
	case MsgPack:
		return "msgpack"
	case JSON:
		return "json"
	case BSON:
		return "bson"
	default:
		return fmt.Sprintf("Encoding(%d)", int(enc))
	}
}

func (enc Encoding) encodeBody(rec any) ([]byte, error) {
	switch enc {
	case MsgPack:
		var buf bytes.Buffer
		e := msgpack.GetEncoder()
		e.Reset(&buf)
		e.SetSortMapKeys(true)
		err := e.Encode(rec)
		msgpack.PutEncoder(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T using msgpack: %w", rec, err)
		}
		return buf.Bytes(), nil
	case JSON:
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T to JSON: %w", rec, err)
		}
		return raw, nil
	case BSON:
		raw, err := bson.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %T to BSON: %w", rec, err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %v", enc)
	}
}

func (enc Encoding) decodeBody(buf []byte, recPtr any) error {
	switch enc {
	case MsgPack:
		var r bytes.Reader
		r.Reset(buf)
		d := msgpack.GetDecoder()
		d.Reset(&r)
		err := d.Decode(recPtr)
		msgpack.PutDecoder(d)
		if err != nil {
			return fmt.Errorf("failed to decode msgpack into %T: %w", recPtr, err)
		}
		return nil
	case JSON:
		if err := json.Unmarshal(buf, recPtr); err != nil {
			return fmt.Errorf("failed to decode JSON into %T: %w", recPtr, err)
		}
		return nil
	case BSON:
		if err := bson.Unmarshal(buf, recPtr); err != nil {
			return fmt.Errorf("failed to decode BSON into %T: %w", recPtr, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported encoding %v", enc)
	}
}
