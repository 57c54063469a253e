package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"custody-ledger/internal/domain"
)

// ComputeEntryID computes a deterministic ledger entry id using SHA256.
// Formula: SHA256(entry_type|reference_id|account_key)
// Returns hex-encoded hash (64 characters). Replaying an operation yields
// the same ids, which is what makes ledger commits idempotent.
func ComputeEntryID(entryType domain.EntryType, referenceID string, account domain.AccountKey) string {
	data := fmt.Sprintf("%s|%s|%s",
		string(entryType),
		referenceID,
		account.String(),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeOperationID derives a stable id for a client-supplied idempotency
// key, scoped to the user and operation so keys from different users or
// endpoints never collide.
func ComputeOperationID(operation, userID, idempotencyKey string) string {
	data := fmt.Sprintf("%s|%s|%s", operation, userID, idempotencyKey)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:16])
}
