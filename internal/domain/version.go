package domain

import (
	"encoding/base64"
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// Version is a per-row stamp. It starts at 1 on insert and grows by one on every write.
type Version int64

const InitialVersion Version = 1

func (v Version) Next() Version {
	return v + 1
}

// Token encodes the version as the opaque rowVersion clients send back.
func (v Version) Token() string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return base64.StdEncoding.EncodeToString(buf[:])
}

func ParseToken(token string) (Version, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return 0, errors.Wrap(ErrInvalidInput, "rowVersion is not base64")
	}
	if len(raw) != 8 {
		return 0, errors.Wrapf(ErrInvalidInput, "rowVersion must be 8 bytes, got %d", len(raw))
	}
	return Version(binary.BigEndian.Uint64(raw)), nil
}
