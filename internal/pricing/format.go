package pricing

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatAmount renders an amount in rupiah, e.g. "Rp 49.500".
func FormatAmount(amount int64) string {
	p := message.NewPrinter(language.Indonesian)
	if amount < 0 {
		return "-" + p.Sprintf("Rp %d", -amount)
	}
	return p.Sprintf("Rp %d", amount)
}
