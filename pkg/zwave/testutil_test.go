package zwave

import (
	"encoding/hex"
	"strings"
)

// hexDecodeSpaced decodes a whitespace-separated hex byte dump, the
// notation the round-trip vectors are written in ("02 01 03").
func hexDecodeSpaced(s string) ([]byte, error) {
	return hex.DecodeString(strings.ReplaceAll(s, " ", ""))
}
