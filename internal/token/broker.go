// SPDX-License-Identifier: MIT

// Package token mints short-lived credentials for the external RTC and
// pub/sub services. The broker is stateless; it holds the signing secrets
// and never logs them.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"time"
)

// Role of a participant on an RTC channel.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
)

// Token lifetimes per the external services' contracts.
const (
	RTCTokenTTL    = 24 * time.Hour
	PubSubTokenTTL = 1 * time.Hour
)

// RTCToken is a credential bound to one subject on one channel.
type RTCToken struct {
	Token     string    `json:"token"`
	Channel   string    `json:"channel"`
	UID       uint32    `json:"uid"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PubSubToken grants a subject blanket subscribe/publish/presence capability.
type PubSubToken struct {
	Token      string    `json:"token"`
	KeyName    string    `json:"key_name"`
	Capability string    `json:"capability"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Broker signs tokens with the external services' secrets.
type Broker struct {
	rtcAppID   string
	rtcCert    []byte
	pubSubKey  string // "name:secret"
	now        func() time.Time
}

// New builds a broker. pubSubKey is the external service's API key in
// "keyName:secret" form.
func New(rtcAppID, rtcCertificate, pubSubKey string) *Broker {
	return &Broker{
		rtcAppID:  rtcAppID,
		rtcCert:   []byte(rtcCertificate),
		pubSubKey: pubSubKey,
		now:       time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (b *Broker) WithClock(now func() time.Time) *Broker {
	b.now = now
	return b
}

// NumericUID derives the stable numeric identity used on RTC channels:
// the absolute value of a 32-bit rolling hash of the user identifier.
func NumericUID(userID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	v := int32(h.Sum32())
	if v < 0 {
		// abs of the signed interpretation; MinInt32 maps onto itself safely
		// through the unsigned negation.
		return uint32(-int64(v))
	}
	return uint32(v)
}

// MintRTC returns a channel-bound RTC token for the subject.
func (b *Broker) MintRTC(userID, channel string, role Role) RTCToken {
	expires := b.now().Add(RTCTokenTTL).UTC()
	uid := NumericUID(userID)

	msg := fmt.Sprintf("%s:%s:%d:%s:%d", b.rtcAppID, channel, uid, role, expires.Unix())
	mac := hmac.New(sha256.New, b.rtcCert)
	_, _ = mac.Write([]byte(msg))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	// Opaque wire form: version, app id, claims and signature.
	raw := fmt.Sprintf("007%s.%s.%d.%s.%d.%s", b.rtcAppID, channel, uid, role, expires.Unix(), sig)

	return RTCToken{
		Token:     base64.RawURLEncoding.EncodeToString([]byte(raw)),
		Channel:   channel,
		UID:       uid,
		Role:      role,
		ExpiresAt: expires,
	}
}

// MintPubSub returns a pub/sub token with blanket capability for the subject.
func (b *Broker) MintPubSub(userID string) (PubSubToken, error) {
	keyName, secret, ok := strings.Cut(b.pubSubKey, ":")
	if !ok || keyName == "" || secret == "" {
		return PubSubToken{}, fmt.Errorf("token: malformed pub/sub api key")
	}

	expires := b.now().Add(PubSubTokenTTL).UTC()
	capability := `{"*":["subscribe","publish","presence"]}`

	claims := map[string]any{
		"keyName":    keyName,
		"clientId":   userID,
		"capability": capability,
		"timestamp":  b.now().UnixMilli(),
		"ttl":        PubSubTokenTTL.Milliseconds(),
	}
	body, err := json.Marshal(claims)
	if err != nil {
		return PubSubToken{}, fmt.Errorf("token: marshal claims: %w", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	token := base64.RawURLEncoding.EncodeToString(body) + "." + sig
	return PubSubToken{
		Token:      token,
		KeyName:    keyName,
		Capability: capability,
		ExpiresAt:  expires,
	}, nil
}
