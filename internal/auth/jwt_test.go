package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("secret", "market")
	token, err := v.Issue("u1", time.Minute)
	require.NoError(t, err)

	userID, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("secret", "market")

	expired, err := v.Issue("u1", -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	foreign, err := NewVerifier("other", "market").Issue("u1", time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := NewVerifier("secret", "elsewhere").Issue("u1", time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.Verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRequiresSubject(t *testing.T) {
	v := NewVerifier("secret", "")
	token, err := v.Issue("", time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
