package credential

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
)

var ErrPushNotConfigured = fmt.Errorf("%w: vapid keys", ErrConfigurationMissing)

type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// PushKeys holds the VAPID signing identity shared by all tenants. The keys
// are validated on first use and the outcome is kept for the life of the
// value, so a missing key never stops the process from starting.
type PushKeys struct {
	raw VAPIDKeys

	once sync.Once
	keys VAPIDKeys
	err  error
}

func NewPushKeys(publicKey, privateKey, subject string) *PushKeys {
	return &PushKeys{raw: VAPIDKeys{
		PublicKey:  strings.TrimSpace(publicKey),
		PrivateKey: strings.TrimSpace(privateKey),
		Subject:    strings.TrimSpace(subject),
	}}
}

// Keys returns the validated keys or an error wrapping ErrPushNotConfigured.
func (p *PushKeys) Keys() (VAPIDKeys, error) {
	if p == nil {
		return VAPIDKeys{}, ErrPushNotConfigured
	}
	p.once.Do(func() {
		p.keys, p.err = validateVAPID(p.raw)
	})
	return p.keys, p.err
}

func (p *PushKeys) Configured() bool {
	_, err := p.Keys()
	return err == nil
}

func validateVAPID(k VAPIDKeys) (VAPIDKeys, error) {
	if k.PublicKey == "" || k.PrivateKey == "" {
		return VAPIDKeys{}, fmt.Errorf("%w: public and private key must be set", ErrPushNotConfigured)
	}
	pub, err := decodeKey(k.PublicKey)
	if err != nil || len(pub) != 65 || pub[0] != 0x04 {
		return VAPIDKeys{}, fmt.Errorf("%w: public key is not an uncompressed P-256 point", ErrPushNotConfigured)
	}
	priv, err := decodeKey(k.PrivateKey)
	if err != nil || len(priv) != 32 {
		return VAPIDKeys{}, fmt.Errorf("%w: private key must be 32 bytes", ErrPushNotConfigured)
	}
	if k.Subject == "" {
		return VAPIDKeys{}, fmt.Errorf("%w: subject must be set", ErrPushNotConfigured)
	}
	return k, nil
}

// decodeKey accepts the URL-safe and standard base64 alphabets, padded or not.
func decodeKey(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
