package web

import (
	"fmt"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const (
	metaVAPIDPublic  = "push_vapid_public_key"
	metaVAPIDPrivate = "push_vapid_private_key"
)

// MetaStore is the key/value table the keypair is persisted in.
type MetaStore interface {
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error
}

// VAPIDKeys identify this daemon to push services.
type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// EnsureVAPIDKeys returns the stored keypair, generating and persisting one
// on first use. generated reports whether a new pair was created.
func EnsureVAPIDKeys(store MetaStore, subject string) (keys VAPIDKeys, generated bool, err error) {
	keys.Subject = strings.TrimSpace(subject)

	pub, err := store.GetMeta(metaVAPIDPublic)
	if err != nil {
		return keys, false, fmt.Errorf("read vapid public key: %w", err)
	}
	priv, err := store.GetMeta(metaVAPIDPrivate)
	if err != nil {
		return keys, false, fmt.Errorf("read vapid private key: %w", err)
	}
	pub, priv = strings.TrimSpace(pub), strings.TrimSpace(priv)
	if pub != "" && priv != "" {
		keys.PublicKey, keys.PrivateKey = pub, priv
		return keys, false, nil
	}

	priv, pub, err = webpush.GenerateVAPIDKeys()
	if err != nil {
		return keys, false, fmt.Errorf("generate vapid keypair: %w", err)
	}
	if err := store.SetMeta(metaVAPIDPrivate, priv); err != nil {
		return keys, false, fmt.Errorf("store vapid private key: %w", err)
	}
	if err := store.SetMeta(metaVAPIDPublic, pub); err != nil {
		return keys, false, fmt.Errorf("store vapid public key: %w", err)
	}
	keys.PublicKey, keys.PrivateKey = pub, priv
	return keys, true, nil
}
