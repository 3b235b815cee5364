// Package fingerprint serializes decoded encryption metadata into the
// single-line record consumed by offline password recovery tools.
package fingerprint

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/hashbaker/pdfhash/security"
)

// Format renders d as one line, no trailing delimiter, no newline:
//
//	$pdf$V*R*Length*P*EncryptMetadata*len(ID)*hex(ID)*<len*hex pairs>
//
// The trailing pairs cover, in order and only when present: owner data,
// user data, owner seed, user seed. Consumers infer the revision family
// from the number of emitted pairs.
func Format(d *security.EncryptionDictionary) string {
	parts := []string{
		"$pdf$" + strconv.Itoa(d.AlgorithmVersion),
		strconv.Itoa(d.Revision),
		strconv.Itoa(d.KeyLengthBits),
		strconv.FormatInt(int64(d.Permissions), 10),
		boolDigit(d.EncryptMetadata),
		strconv.Itoa(len(d.DocumentID)),
		hex.EncodeToString(d.DocumentID),
	}
	max := security.MaxFieldLength(d.Revision)
	for _, field := range [][]byte{d.OwnerData, d.UserData, d.OwnerSeed, d.UserSeed} {
		if field == nil {
			continue
		}
		if len(field) > max {
			field = field[:max]
		}
		parts = append(parts, strconv.Itoa(len(field)), hex.EncodeToString(field))
	}
	return strings.Join(parts, "*")
}

func boolDigit(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
