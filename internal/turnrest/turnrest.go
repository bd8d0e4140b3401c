// Package turnrest mints coturn-compatible TURN REST credentials.
//
// The relay does not proxy media, but it hands browsers their ICE server
// list; when a TURN deployment uses the REST credential scheme, each client
// needs a short-lived username/credential pair instead of a static secret.
//
// Algorithm (see draft-uberti-behave-turn-rest and the coturn wiki):
//
//	username   = <unix_expiry>:<prefix>:<client_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Minter issues ephemeral TURN credentials from a shared secret.
type Minter struct {
	secret []byte
	ttl    time.Duration
	prefix string
	now    func() time.Time
}

type Config struct {
	SharedSecret string
	TTL          time.Duration
	Prefix       string

	// Now is swappable for tests; defaults to time.Now.
	Now func() time.Time
}

func NewMinter(cfg Config) (*Minter, error) {
	if cfg.SharedSecret == "" {
		return nil, errors.New("turnrest: shared secret is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("turnrest: TTL must be positive")
	}
	if cfg.Prefix == "" {
		return nil, errors.New("turnrest: prefix is required")
	}
	if strings.Contains(cfg.Prefix, ":") {
		return nil, errors.New("turnrest: prefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Minter{
		secret: []byte(cfg.SharedSecret),
		ttl:    cfg.TTL,
		prefix: cfg.Prefix,
		now:    cfg.Now,
	}, nil
}

// Credentials is one ephemeral TURN username/credential pair.
type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// Mint issues credentials bound to clientID, typically the WebSocket
// connection id so TURN usage is attributable per peer.
func (m *Minter) Mint(clientID string) (Credentials, error) {
	if clientID == "" {
		return Credentials{}, errors.New("turnrest: client id is required")
	}
	if strings.Contains(clientID, ":") {
		return Credentials{}, errors.New("turnrest: client id must not contain ':'")
	}

	expiry := m.now().UTC().Add(m.ttl).Unix()
	username := fmt.Sprintf("%d:%s:%s", expiry, m.prefix, clientID)

	mac := hmac.New(sha1.New, m.secret)
	_, _ = mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiry,
	}, nil
}

// MintRandom issues credentials for an anonymous client, used when the
// caller has no stable connection id yet (e.g. the pre-join ICE fetch).
func (m *Minter) MintRandom() (Credentials, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return Credentials{}, fmt.Errorf("turnrest: random client id: %w", err)
	}
	return m.Mint(hex.EncodeToString(b[:]))
}
