package crypto

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"
)

// Fingerprint returns a short hex fingerprint over one or more public keys,
// grouped in blocks of four characters for reading aloud.
//
// It hashes with BLAKE3 and truncates to 10 bytes (20 hex chars).
func Fingerprint(pubs ...[]byte) string {
	h := blake3.New()
	for _, p := range pubs {
		_, _ = h.Write(p)
	}
	sum := h.Sum(nil)
	raw := hex.EncodeToString(sum[:10])

	var b strings.Builder
	for i := 0; i < len(raw); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(raw[i : i+4])
	}
	return b.String()
}
