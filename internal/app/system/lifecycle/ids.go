package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewTransactionID returns "tx_<unix millis>_<12 hex chars>". The random
// suffix comes from a v4 UUID, so IDs minted in the same millisecond differ.
func NewTransactionID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("tx_%d_%s", time.Now().UnixMilli(), suffix)
}

// Fingerprint is the lookup key for an invite link: the hex SHA-256 digest
// of the link exactly as the chat platform returned it.
func Fingerprint(inviteLink string) string {
	sum := sha256.Sum256([]byte(inviteLink))
	return hex.EncodeToString(sum[:])
}
