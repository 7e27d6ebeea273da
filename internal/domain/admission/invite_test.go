package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvite(t *testing.T) {
	invite, err := NewInvite(7, "AbCd1234", 0, nil, testNow)
	require.NoError(t, err)
	assert.Equal(t, DefaultInviteMaxUses, invite.MaxUses)
	assert.True(t, invite.IsUsable(testNow))
	assert.Equal(t, "https://apply.example/AbCd1234", invite.URL("https://apply.example"))

	_, err = NewInvite(0, "AbCd1234", 5, nil, testNow)
	assert.Error(t, err)

	past := testNow.Add(-time.Hour)
	_, err = NewInvite(7, "AbCd1234", 5, &past, testNow)
	assert.Error(t, err)
}

func TestInvite_IsUsable(t *testing.T) {
	expires := testNow.Add(time.Hour)
	invite, err := NewInvite(7, "AbCd1234", 2, &expires, testNow)
	require.NoError(t, err)

	assert.False(t, invite.IsUsable(expires))
	invite.Uses = 2
	assert.False(t, invite.IsUsable(testNow))
	invite.Uses = 0
	invite.Revoked = true
	assert.False(t, invite.IsUsable(testNow))
}

func TestRandomInviteCode(t *testing.T) {
	seen := make(map[string]bool)
	for range 50 {
		code, err := RandomInviteCode()
		require.NoError(t, err)
		assert.Len(t, code, InviteCodeLength)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)
}

func TestParseMessageLocator(t *testing.T) {
	loc, err := ParseMessageLocator("123:456")
	require.NoError(t, err)
	assert.Equal(t, MessageLocator{ChannelID: "123", MessageID: "456"}, loc)
	assert.Equal(t, "123:456", loc.String())

	zero, err := ParseMessageLocator("")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())

	_, err = ParseMessageLocator("nocolon")
	assert.Error(t, err)
	_, err = ParseMessageLocator(":456")
	assert.Error(t, err)
}
