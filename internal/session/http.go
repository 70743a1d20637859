package session

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/gorilla/sessions"
)

const (
	cookieName = "queryx"
	valueKey   = "ctx"
)

// HTTPStore keeps session contexts behind a gorilla/sessions store. The
// browser only holds the signed cookie; the encoded context lives in the
// backing store.
type HTTPStore struct {
	store sessions.Store
}

// NewFilesystemStore keeps session data as files under dir, signed with
// secret. An empty dir uses os.TempDir().
func NewFilesystemStore(dir string, secret []byte) (*HTTPStore, error) {
	if len(secret) == 0 {
		return nil, errors.New("session secret is required")
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	fs := sessions.NewFilesystemStore(dir, secret)
	// Logs and mappings outgrow the securecookie default of 4096 bytes.
	fs.MaxLength(0)
	fs.MaxAge(86400 * 30) // 30 days
	fs.Options.Path = "/"
	fs.Options.HttpOnly = true
	fs.Options.SameSite = http.SameSiteLaxMode

	return &HTTPStore{store: fs}, nil
}

// NewHTTPStore wraps any gorilla/sessions store.
func NewHTTPStore(store sessions.Store) *HTTPStore {
	return &HTTPStore{store: store}
}

// Load returns the context bound to the request, or a new one when the
// request carries no (or an unreadable) session.
func (s *HTTPStore) Load(r *http.Request) (Context, error) {
	sess, err := s.store.Get(r, cookieName)
	if err != nil && sess == nil {
		return Context{}, fmt.Errorf("failed to load session: %w", err)
	}

	raw, ok := sess.Values[valueKey].(string)
	if !ok || raw == "" {
		return New(), nil
	}
	c, err := Decode([]byte(raw))
	if err != nil {
		return New(), nil //nolint:nilerr // a corrupt session starts over
	}
	return c, nil
}

// Save writes c back and sets the session cookie.
func (s *HTTPStore) Save(w http.ResponseWriter, r *http.Request, c Context) error {
	sess, err := s.store.Get(r, cookieName)
	if err != nil && sess == nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	raw, err := Encode(c)
	if err != nil {
		return err
	}
	sess.Values[valueKey] = string(raw)
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
