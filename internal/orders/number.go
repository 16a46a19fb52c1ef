package orders

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// NewNumber formats a human-readable order number: PREFIX-YYYYMMDD-XXXXXX.
func NewNumber(prefix string, at time.Time) string {
	if prefix == "" {
		prefix = "TRX"
	}
	var buf [3]byte
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), strings.ToUpper(hex.EncodeToString(buf[:])))
}
