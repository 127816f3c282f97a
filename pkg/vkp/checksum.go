package vkp

import (
	"crypto/sha256"
	"encoding/hex"
)

// computeChecksum implements spec §6's checksum field:
// "sha256:" + hex(sha256(serialize(document \ checksum))).
func computeChecksum(hashable []byte) string {
	sum := sha256.Sum256(hashable)
	return "sha256:" + hex.EncodeToString(sum[:])
}
