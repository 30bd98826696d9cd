package journals

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"
)

// chainDigest seals a posted entry onto the audit chain:
// BLAKE2b-256(prev digest || canonical entry bytes).
func chainDigest(prev string, e JournalEntry, scale int32) (string, error) {
	prevRaw, err := hex.DecodeString(prev)
	if err != nil {
		return "", fmt.Errorf("journals: previous digest: %w", err)
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write(prevRaw)
	h.Write(canonicalBytes(e, scale))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalBytes renders the fields that must never change after posting.
func canonicalBytes(e JournalEntry, scale int32) []byte {
	var buf bytes.Buffer
	var reversal int64
	if e.ReversalOf != nil {
		reversal = *e.ReversalOf
	}
	fmt.Fprintf(&buf, "seq=%d;period=%d;date=%s;cur=%s;rev=%d\n",
		e.Sequence, e.PeriodID, e.Date.UTC().Format(time.DateOnly), e.Currency, reversal)
	for _, l := range e.Lines {
		fmt.Fprintf(&buf, "%d;%d;%s;%s\n", l.LineNo, l.AccountID, l.Side, l.Amount.StringFixed(scale))
	}
	return buf.Bytes()
}
