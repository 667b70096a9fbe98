package history

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// genesisHash is the prev_hash of the first entry.
const genesisHash = "sha256:genesis"

// computeHash calculates the chained hash of an entry:
//
//	SHA-256(prev_hash | seq | ts | agent | op | outcome | snapshot)
//
// Editing any recorded entry changes its hash and breaks the link to the
// next one.
func computeHash(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s|%s",
		e.PrevHash, e.Seq, e.Timestamp,
		e.Agent, e.Op, e.Outcome, e.Snapshot)
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// verifyEntry reports whether an entry's stored hash matches its contents.
func verifyEntry(e *Entry) bool {
	return e.Hash == computeHash(e)
}
