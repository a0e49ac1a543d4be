// Package isolation derives the per-account storage namespaces: one directory
// for credentials and one for the browser runtime profile.
package isolation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidAccountID is returned for an empty or whitespace-only account id.
var ErrInvalidAccountID = errors.New("invalid account id")

const (
	credentialsDir = "credentials"
	profilesDir    = "profiles"
	maxReadableLen = 48
	hashPrefixLen  = 12
)

// Paths is the namespace pair owned by exactly one account.
type Paths struct {
	Credentials string `json:"credentials"`
	Profile     string `json:"profile"`
}

// Resolver maps account ids to Paths below a base directory.
type Resolver struct {
	baseDir string
}

// NewResolver returns a resolver rooted at baseDir.
func NewResolver(baseDir string) *Resolver {
	return &Resolver{baseDir: baseDir}
}

// BaseDir returns the root all namespaces live under.
func (r *Resolver) BaseDir() string { return r.baseDir }

// Resolve is pure: the same id always yields the same paths and two ids never
// share a key, even when their readable parts sanitize to the same text.
func (r *Resolver) Resolve(accountID string) (Paths, error) {
	key, err := Key(accountID)
	if err != nil {
		return Paths{}, err
	}
	return Paths{
		Credentials: filepath.Join(r.baseDir, credentialsDir, key),
		Profile:     filepath.Join(r.baseDir, profilesDir, key),
	}, nil
}

// Ensure creates both directories (0700). Calling it twice is harmless.
func (r *Resolver) Ensure(p Paths) error {
	for _, dir := range []string{p.Credentials, p.Profile} {
		if dir == "" {
			return fmt.Errorf("ensure namespace: empty path")
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("ensure namespace %s: %w", dir, err)
		}
	}
	return nil
}

// ResolveAndEnsure resolves the paths for accountID and provisions them.
func (r *Resolver) ResolveAndEnsure(accountID string) (Paths, error) {
	p, err := r.Resolve(accountID)
	if err != nil {
		return Paths{}, err
	}
	if err := r.Ensure(p); err != nil {
		return Paths{}, err
	}
	return p, nil
}

// Key returns the directory name used for accountID in both namespaces.
func Key(accountID string) (string, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", ErrInvalidAccountID
	}
	sum := sha256.Sum256([]byte(accountID))
	digest := hex.EncodeToString(sum[:])[:hashPrefixLen]
	readable := sanitize(accountID)
	if readable == "" {
		return digest, nil
	}
	return readable + "-" + digest, nil
}

// sanitize keeps [a-zA-Z0-9_-], replaces everything else with '_' and truncates.
func sanitize(id string) string {
	var b strings.Builder
	for _, c := range id {
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), "_-")
	if len(s) > maxReadableLen {
		s = strings.TrimRight(s[:maxReadableLen], "_-")
	}
	return s
}
