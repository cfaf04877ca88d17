package lockmgr

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	ownerIDLength = 32
)

// generateOwnerID creates a new unique owner ID of ownerIDLength random
// bytes. If the system random source fails, a random uuid is used instead.
func generateOwnerID() []byte {
	randomBytes := make([]byte, ownerIDLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return []byte(uuid.NewString())
	}
	return randomBytes
}

// lockRecord is the content of a lock file: the hex encoded owner ID and
// the expiry as unix milliseconds (0 for no expiry), one per line.
type lockRecord struct {
	owner  []byte
	expiry int64
}

func (r lockRecord) marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(hex.EncodeToString(r.owner))
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(r.expiry, 10))
	buf.WriteByte('\n')
	return buf.Bytes()
}

func parseLockRecord(data []byte) (lockRecord, bool) {
	lines := bytes.Split(bytes.TrimSpace(data), []byte{'\n'})
	if len(lines) != 2 {
		return lockRecord{}, false
	}
	owner, err := hex.DecodeString(string(lines[0]))
	if err != nil {
		return lockRecord{}, false
	}
	expiry, err := strconv.ParseInt(string(lines[1]), 10, 64)
	if err != nil {
		return lockRecord{}, false
	}
	return lockRecord{owner: owner, expiry: expiry}, true
}

func (r lockRecord) expired(now time.Time) bool {
	return r.expiry > 0 && now.UnixMilli() >= r.expiry
}
