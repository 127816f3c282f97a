package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSchoolID replaces a school identifier with a salted one-way hash
// (spec §4.8 step 3: "if a school identifier is present, replace with a
// salted one-way hash"). Empty schoolID yields an empty hash: nothing to
// anonymize.
func HashSchoolID(schoolID, salt string) string {
	if schoolID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(salt + ":" + schoolID))
	return hex.EncodeToString(sum[:])
}
