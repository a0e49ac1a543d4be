package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// credentialFileName is written into the account's credential namespace
// once the remote side reports an authenticated session.
const credentialFileName = "session.json"

type credentialFile struct {
	AccountID string                      `json:"account_id"`
	SavedAt   time.Time                   `json:"saved_at"`
	Cookies   []*proto.NetworkCookieParam `json:"cookies"`
}

func credentialPath(dir string) string {
	return filepath.Join(dir, credentialFileName)
}

// writeCredentials stores cookies atomically with owner-only permissions.
func writeCredentials(dir, accountID string, cookies []*proto.NetworkCookieParam) error {
	data, err := json.MarshalIndent(credentialFile{
		AccountID: accountID,
		SavedAt:   time.Now().UTC(),
		Cookies:   cookies,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	path := credentialPath(dir)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit credentials: %w", err)
	}
	return nil
}

// readCredentials returns nil, nil when nothing has been saved yet. A file
// belonging to another account is rejected.
func readCredentials(dir, accountID string) ([]*proto.NetworkCookieParam, error) {
	data, err := os.ReadFile(credentialPath(dir))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var f credentialFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if f.AccountID != accountID {
		return nil, fmt.Errorf("credentials in %s belong to %q, not %q", dir, f.AccountID, accountID)
	}
	return f.Cookies, nil
}

// HasCredentials reports whether a credential file exists in dir.
func HasCredentials(dir string) bool {
	_, err := os.Stat(credentialPath(dir))
	return err == nil
}

func cookieParams(cookies []*proto.NetworkCookie) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite,
			Priority: c.Priority,
		})
	}
	return params
}
