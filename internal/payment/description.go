package payment

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewDescription builds the correlation token embedded in the bank
// memo, e.g. "BSX29A123453H20250310100000S1a2b3c4d". Plate, billed
// hours and timestamp make it traceable; the random suffix makes two
// descriptions generated in the same millisecond collision-negligible.
func NewDescription(plate string, hours int64, now time.Time) string {
	cleanPlate := strings.ReplaceAll(strings.ToUpper(plate), "-", "")
	cleanPlate = strings.ReplaceAll(cleanPlate, ".", "")
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("BSX%s%dH%sS%s", cleanPlate, hours, now.Format("20060102150405"), suffix)
}

// QRConfig identifies the receiving account for the displayable
// payment descriptor.
type QRConfig struct {
	BankID      string
	AccountNo   string
	AccountName string
}

// DisplayPayload builds the VietQR image URL embedding amount and
// correlation description. Callers render it; the engine never touches
// pixels.
func (c QRConfig) DisplayPayload(amount int64, description string) string {
	return fmt.Sprintf(
		"https://img.vietqr.io/image/%s-%s-print.png?amount=%d&addInfo=%s&accountName=%s",
		c.BankID, c.AccountNo, amount,
		url.QueryEscape(description), url.QueryEscape(c.AccountName))
}
