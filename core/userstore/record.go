package userstore

import (
	"errors"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the stored user record.
const (
	fieldHash    protowire.Number = 1
	fieldCreated protowire.Number = 2
)

var errMalformedRecord = errors.New("userstore: malformed record")

// record is the value stored under a user key.
type record struct {
	hash    []byte
	created time.Time
}

func (r *record) marshal() []byte {
	b := make([]byte, 0, len(r.hash)+16)
	b = protowire.AppendTag(b, fieldHash, protowire.BytesType)
	b = protowire.AppendBytes(b, r.hash)
	b = protowire.AppendTag(b, fieldCreated, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.created.Unix()))
	return b
}

// unmarshal skips unknown fields so the record can grow.
func (r *record) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldHash && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.hash = append(r.hash[:0], v...)
			b = b[n:]
		case num == fieldCreated && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.created = time.Unix(int64(v), 0)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	if len(r.hash) == 0 {
		return errMalformedRecord
	}
	return nil
}
