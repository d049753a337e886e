package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDescription_Format(t *testing.T) {
	now := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	desc := NewDescription("29A-123.45", 3, now)

	assert.Regexp(t, `^BSX29A123453H20260310100000S[0-9a-f]{8}$`, desc)
}

func TestNewDescription_UniquePerCall(t *testing.T) {
	now := time.Now()

	a := NewDescription("51B-678.90", 1, now)
	b := NewDescription("51B-678.90", 1, now)

	assert.NotEqual(t, a, b)
}

func TestQRConfig_DisplayPayload(t *testing.T) {
	qr := QRConfig{BankID: "MB", AccountNo: "0123456789", AccountName: "PARKING LOT"}

	got := qr.DisplayPayload(30000, "BSX29A123453H20260310100000Sdeadbeef")

	assert.Equal(t,
		"https://img.vietqr.io/image/MB-0123456789-print.png?amount=30000&addInfo=BSX29A123453H20260310100000Sdeadbeef&accountName=PARKING+LOT",
		got)
}
