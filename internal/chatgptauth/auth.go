// Package chatgptauth manages the ChatGPT-mode OAuth record: an on-disk
// {access_token, refresh_token, expires_at, account_id} record, refreshed
// behind a process-wide mutex and rewritten atomically.
package chatgptauth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// safetyMargin is how far ahead of actual expiry a refresh is triggered.
const safetyMargin = 2 * time.Minute

// Record is the persisted auth material.
type Record struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	AccountID    string    `json:"account_id"`
}

// Headers is the upstream-auth header set derived from a Record.
type Headers struct {
	Authorization string
	AccountID     string
}

// RefreshFunc exchanges a refresh token for a new Record via the provider's
// token endpoint; injected so tests can substitute a fake exchange.
type RefreshFunc func(refreshToken string) (*Record, error)

// Manager owns the on-disk record, an in-memory cache, and the refresh
// mutex. One Manager is shared process-wide for the Codex ChatGPT adapter.
type Manager struct {
	path    string
	refresh RefreshFunc

	mu        sync.Mutex
	cached    *Record
	cachedAt  time.Time
	fileMtime time.Time
}

// New builds a Manager reading/writing the record at path.
func New(path string, refresh RefreshFunc) *Manager {
	return &Manager{path: path, refresh: refresh}
}

func (m *Manager) load() (*Record, error) {
	info, err := os.Stat(m.path)
	if err != nil {
		return nil, fmt.Errorf("chatgptauth: stat %s: %w", m.path, err)
	}
	if m.cached != nil && !info.ModTime().After(m.fileMtime) {
		return m.cached, nil
	}
	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil, fmt.Errorf("chatgptauth: read %s: %w", m.path, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("chatgptauth: parse %s: %w", m.path, err)
	}
	m.cached = &rec
	m.fileMtime = info.ModTime()
	return &rec, nil
}

// save writes the record atomically: write to a temp file in the same
// directory, then rename, so a crash mid-write never corrupts the record.
func (m *Manager) save(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".auth-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	m.cached = rec
	if info, err := os.Stat(m.path); err == nil {
		m.fileMtime = info.ModTime()
	}
	return nil
}

// GetHeaders returns the current bearer auth headers, refreshing the record
// first if it is within safetyMargin of expiry.
func (m *Manager) GetHeaders() (Headers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.load()
	if err != nil {
		return Headers{}, err
	}
	if time.Until(rec.ExpiresAt) < safetyMargin {
		rec, err = m.doRefresh(rec)
		if err != nil {
			return Headers{}, err
		}
	}
	return Headers{Authorization: "Bearer " + rec.AccessToken, AccountID: rec.AccountID}, nil
}

// ForceRefresh unconditionally exchanges the refresh token, used by the
// dispatcher after an upstream 401.
func (m *Manager) ForceRefresh() (Headers, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.load()
	if err != nil {
		return Headers{}, err
	}
	rec, err = m.doRefresh(rec)
	if err != nil {
		return Headers{}, err
	}
	return Headers{Authorization: "Bearer " + rec.AccessToken, AccountID: rec.AccountID}, nil
}

// doRefresh must be called with mu held.
func (m *Manager) doRefresh(rec *Record) (*Record, error) {
	next, err := m.refresh(rec.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("chatgptauth: refresh: %w", err)
	}
	if next.AccountID == "" {
		next.AccountID = rec.AccountID
	}
	if err := m.save(next); err != nil {
		return nil, err
	}
	return next, nil
}

// DefaultRefreshFunc exchanges a refresh token via tokenURL using the
// standard OAuth refresh_token grant, for wiring into New outside tests.
func DefaultRefreshFunc(tokenURL, clientID string) RefreshFunc {
	return func(refreshToken string) (*Record, error) {
		form := map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": refreshToken,
			"client_id":     clientID,
		}
		body, _ := json.Marshal(form)
		resp, err := http.Post(tokenURL, "application/json", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
		}

		var payload struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    int    `json:"expires_in"`
			AccountID    string `json:"account_id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, err
		}
		refreshOut := payload.RefreshToken
		if refreshOut == "" {
			refreshOut = refreshToken
		}
		return &Record{
			AccessToken:  payload.AccessToken,
			RefreshToken: refreshOut,
			ExpiresAt:    time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second),
			AccountID:    payload.AccountID,
		}, nil
	}
}
