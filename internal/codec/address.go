package codec

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bft-labs/tickbridge/internal/domain"
)

// AddressHexLen is the number of hex characters in a bound address.
const AddressHexLen = 40

// NormalizeAddress validates a 40-hex-character address with or without a
// 0x prefix and returns it 0x-prefixed. Letter case is preserved.
func NormalizeAddress(addr string) (string, error) {
	body := strings.TrimPrefix(addr, "0x")
	if len(body) != AddressHexLen {
		return "", fmt.Errorf("%w: %q has %d hex characters, want %d", domain.ErrInvalidAddress, addr, len(body), AddressHexLen)
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", fmt.Errorf("%w: %q is not hex", domain.ErrInvalidAddress, addr)
	}
	return "0x" + body, nil
}
