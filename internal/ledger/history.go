package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/dallo7/korosho/internal/domain"
	"github.com/dallo7/korosho/pkg/errors"

	"github.com/google/uuid"
)

// GenesisHash is the previous hash of the first history entry.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// NewHistoryEntry builds the settlement record for batch, chained onto
// previousHash. An empty previousHash starts a new chain.
func NewHistoryEntry(batch *domain.Batch, paid, failed int, previousHash string, processedAt time.Time) *domain.PaymentHistoryEntry {
	if previousHash == "" {
		previousHash = GenesisHash
	}
	entry := &domain.PaymentHistoryEntry{
		ID:              uuid.New(),
		BatchID:         batch.ID,
		CooperativeName: batch.CooperativeName,
		Filename:        batch.Filename,
		RecordCount:     batch.RecordCount,
		TotalAmount:     batch.TotalAmount,
		PaidCount:       paid,
		FailedCount:     failed,
		ProcessedAt:     processedAt.UTC().Truncate(time.Microsecond),
		PreviousHash:    previousHash,
	}
	entry.Hash = HashEntry(entry)
	return entry
}

// HashEntry computes the chain hash of e from its content and PreviousHash.
func HashEntry(e *domain.PaymentHistoryEntry) string {
	data := fmt.Sprintf("%d:%s:%d:%s:%d:%d:%s:%d",
		e.BatchID, e.CooperativeName, e.RecordCount, e.TotalAmount.String(),
		e.PaidCount, e.FailedCount, e.PreviousHash, e.ProcessedAt.UnixNano())

	hashBytes := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hashBytes[:])
}

// VerifyChain checks that entries, oldest first, form an unbroken chain.
func VerifyChain(entries []domain.PaymentHistoryEntry) error {
	prevHash := GenesisHash
	for i := range entries {
		entry := &entries[i]
		if entry.PreviousHash != prevHash {
			return errors.Wrap(errors.ErrHistoryChainBroken,
				fmt.Sprintf("index %d: expected prev_hash %s, got %s", i, prevHash, entry.PreviousHash))
		}
		if calc := HashEntry(entry); entry.Hash != calc {
			return errors.Wrap(errors.ErrHistoryChainBroken,
				fmt.Sprintf("index %d: hash mismatch", i))
		}
		prevHash = entry.Hash
	}
	return nil
}
