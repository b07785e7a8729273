package executor

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"sort"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"

	"github.com/smoosense/smoosense/internal/dataset"
	apperrors "github.com/smoosense/smoosense/internal/errors"
)

// Cursor is the decoded form of an opaque continuation token.
type Cursor struct {
	Offset   int64  `json:"o"`
	PageSize int    `json:"n"`
	Hash     uint64 `json:"h"`
}

// EncodeCursor renders c as URL-safe text.
func EncodeCursor(c Cursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(snappy.Encode(nil, raw))
}

// DecodeCursor parses a token and checks that it belongs to the query
// with the given hash.
func DecodeCursor(token string, hash uint64) (Cursor, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, apperrors.NewInvalidCursorError("malformed token")
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return Cursor{}, apperrors.NewInvalidCursorError("malformed token")
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return Cursor{}, apperrors.NewInvalidCursorError("malformed token")
	}
	if c.Offset < 0 || c.PageSize <= 0 {
		return Cursor{}, apperrors.NewInvalidCursorError("out of range")
	}
	if c.Hash != hash {
		return Cursor{}, apperrors.NewInvalidCursorError("cursor belongs to a different query or the data changed")
	}
	return c, nil
}

// QueryHash identifies a query for cursor validation: the normalized SQL
// plus every binding's name, dataset and fingerprint.
func QueryHash(sql string, bindings map[string]*dataset.Dataset) uint64 {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	h := murmur3.New64()
	h.Write([]byte(sql))
	var buf [8]byte
	for _, name := range names {
		ds := bindings[name]
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{0})
		h.Write([]byte(ds.ID))
		binary.LittleEndian.PutUint64(buf[:], uint64(ds.Fingerprint))
		h.Write(buf[:])
	}
	return h.Sum64()
}
