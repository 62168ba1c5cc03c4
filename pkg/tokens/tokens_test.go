package tokens

import (
	"testing"
	"time"

	"github.com/bastionhq/bastion/pkg/console"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndValidate(t *testing.T) {
	m := NewManager()

	ct, err := m.Issue("srv-1", console.Identity{UserID: "user-1"}, time.Minute)
	require.NoError(t, err)
	assert.Len(t, ct.Token, 64)

	user, err := m.Validate(ct.Token, "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.UserID)
}

func TestValidateWrongServer(t *testing.T) {
	m := NewManager()
	ct, err := m.Issue("srv-1", console.Identity{UserID: "user-1"}, time.Minute)
	require.NoError(t, err)

	_, err = m.Validate(ct.Token, "srv-2")
	assert.ErrorIs(t, err, ErrWrongServer)
}

func TestValidateUnknownToken(t *testing.T) {
	m := NewManager()

	_, err := m.Validate("deadbeef", "srv-1")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiry(t *testing.T) {
	m := NewManager()
	ct, err := m.Issue("srv-1", console.Identity{UserID: "user-1"}, time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := m.Validate(ct.Token, "srv-1")
		return err == ErrTokenExpired
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, m.CleanupExpired())
	_, err = m.Validate(ct.Token, "srv-1")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke(t *testing.T) {
	m := NewManager()
	ct, err := m.Issue("srv-1", console.Identity{UserID: "user-1"}, time.Minute)
	require.NoError(t, err)

	m.Revoke(ct.Token)
	_, err = m.Validate(ct.Token, "srv-1")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJanitorDropsExpired(t *testing.T) {
	m := NewManager()
	ct, err := m.Issue("srv-1", console.Identity{UserID: "user-1"}, time.Millisecond)
	require.NoError(t, err)

	stop := make(chan struct{})
	defer close(stop)
	m.StartJanitor(5*time.Millisecond, stop)

	assert.Eventually(t, func() bool {
		_, err := m.Validate(ct.Token, "srv-1")
		return err == ErrInvalidToken
	}, time.Second, 5*time.Millisecond)
}

func TestTokensAreUnique(t *testing.T) {
	m := NewManager()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		ct, err := m.Issue("srv-1", console.Identity{UserID: "user-1"}, time.Minute)
		require.NoError(t, err)
		assert.False(t, seen[ct.Token])
		seen[ct.Token] = true
	}
}
