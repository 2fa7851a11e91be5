package chatgptauth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRecord(t *testing.T, path string, rec Record) {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestGetHeaders_NoRefreshWhenFarFromExpiry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	writeRecord(t, path, Record{AccessToken: "tok1", RefreshToken: "ref1", ExpiresAt: time.Now().Add(time.Hour)})

	var calls int32
	m := New(path, func(string) (*Record, error) {
		atomic.AddInt32(&calls, 1)
		return &Record{AccessToken: "tok2", RefreshToken: "ref2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	h, err := m.GetHeaders()
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok1", h.Authorization)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestGetHeaders_RefreshesWhenNearExpiry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	writeRecord(t, path, Record{AccessToken: "tok1", RefreshToken: "ref1", ExpiresAt: time.Now().Add(time.Second)})

	var calls int32
	m := New(path, func(string) (*Record, error) {
		atomic.AddInt32(&calls, 1)
		return &Record{AccessToken: "tok2", RefreshToken: "ref2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	h, err := m.GetHeaders()
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok2", h.Authorization)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Persisted atomically; reloading the file reflects the refreshed token.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk Record
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, "tok2", onDisk.AccessToken)
}

func TestGetHeaders_ParallelCallsTriggerExactlyOneRefresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	writeRecord(t, path, Record{AccessToken: "tok1", RefreshToken: "ref1", ExpiresAt: time.Now().Add(time.Second)})

	var calls int32
	m := New(path, func(string) (*Record, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(10 * time.Millisecond)
		return &Record{AccessToken: "tok2", RefreshToken: "ref2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := m.GetHeaders()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestForceRefresh_AlwaysExchanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auth.json")
	writeRecord(t, path, Record{AccessToken: "tok1", RefreshToken: "ref1", ExpiresAt: time.Now().Add(time.Hour)})

	var calls int32
	m := New(path, func(string) (*Record, error) {
		atomic.AddInt32(&calls, 1)
		return &Record{AccessToken: "tok2", RefreshToken: "ref2", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	h, err := m.ForceRefresh()
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok2", h.Authorization)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
