// SPDX-License-Identifier: MIT

package token

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBroker() *Broker {
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return New("app-1", "cert-secret", "key-name:key-secret").
		WithClock(func() time.Time { return fixed })
}

func TestNumericUIDDeterministic(t *testing.T) {
	a := NumericUID("user-1")
	b := NumericUID("user-1")
	c := NumericUID("user-2")

	assert.Equal(t, a, b, "same user id yields same uid")
	assert.NotEqual(t, a, c)
	assert.NotZero(t, a)
}

func TestMintRTCBindsChannelAndSubject(t *testing.T) {
	b := testBroker()

	tok := b.MintRTC("user-1", "reading_abc", RolePublisher)
	assert.Equal(t, "reading_abc", tok.Channel)
	assert.Equal(t, NumericUID("user-1"), tok.UID)
	assert.Equal(t, RolePublisher, tok.Role)
	assert.Equal(t, time.Date(2026, 8, 2, 12, 0, 0, 0, time.UTC), tok.ExpiresAt)
	assert.NotEmpty(t, tok.Token)

	// Same inputs and clock produce the same opaque token; any change in
	// channel or subject changes it.
	again := b.MintRTC("user-1", "reading_abc", RolePublisher)
	assert.Equal(t, tok.Token, again.Token)

	other := b.MintRTC("user-1", "reading_xyz", RolePublisher)
	assert.NotEqual(t, tok.Token, other.Token)

	otherUser := b.MintRTC("user-2", "reading_abc", RolePublisher)
	assert.NotEqual(t, tok.Token, otherUser.Token)
}

func TestMintRTCDoesNotLeakCertificate(t *testing.T) {
	b := testBroker()
	tok := b.MintRTC("user-1", "reading_abc", RoleSubscriber)
	assert.NotContains(t, tok.Token, "cert-secret")
}

func TestMintPubSub(t *testing.T) {
	b := testBroker()

	tok, err := b.MintPubSub("user-1")
	require.NoError(t, err)
	assert.Equal(t, "key-name", tok.KeyName)
	assert.Contains(t, tok.Capability, "subscribe")
	assert.Contains(t, tok.Capability, "publish")
	assert.Contains(t, tok.Capability, "presence")
	assert.Equal(t, time.Date(2026, 8, 1, 13, 0, 0, 0, time.UTC), tok.ExpiresAt)

	parts := strings.Split(tok.Token, ".")
	require.Len(t, parts, 2, "token is claims.signature")
	assert.NotContains(t, tok.Token, "key-secret")
}

func TestMintPubSubRejectsMalformedKey(t *testing.T) {
	b := New("app-1", "cert", "no-separator")
	_, err := b.MintPubSub("user-1")
	require.Error(t, err)
}
