package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var svc = NewService("test-signing-key", "xparking-test")

func Test_IssueAndValidate(t *testing.T) {
	signed, err := svc.Issue("op-1", "operator", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, signed)

	claims, err := svc.Validate(signed)
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.Operator)
	assert.Equal(t, "operator", claims.Role)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, time.Minute)
}

func Test_Validate_Garbage(t *testing.T) {
	_, err := svc.Validate("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_Validate_Expired(t *testing.T) {
	signed, err := svc.Issue("op-1", "operator", -time.Minute)
	require.NoError(t, err)

	_, err = svc.Validate(signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func Test_Validate_WrongKey(t *testing.T) {
	other := NewService("different-key", "xparking-test")
	signed, err := other.Issue("op-1", "operator", time.Hour)
	require.NoError(t, err)

	_, err = svc.Validate(signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}
