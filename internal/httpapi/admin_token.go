package httpapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// AdminTokenHolder provides thread-safe access to the admin token. When the
// ledger lives in a SQLite file the token is persisted next to it so it
// survives restarts.
type AdminTokenHolder struct {
	mu    sync.RWMutex
	token string
	dsn   string // ledger DSN; used to derive the data directory
}

// NewAdminTokenHolder resolves the initial token using the following
// precedence:
//
//  1. Explicit env/config value
//  2. Previously persisted token from the data directory
//  3. Newly generated random token
func NewAdminTokenHolder(configToken, dsn string, logger *slog.Logger) (*AdminTokenHolder, error) {
	h := &AdminTokenHolder{dsn: dsn, token: configToken}
	if h.token == "" {
		h.token = h.readPersisted()
	}
	if h.token == "" {
		tok, err := randomToken()
		if err != nil {
			return nil, err
		}
		h.token = tok
		logger.Warn("EDGEGATE_ADMIN_TOKEN not set, generated one (retrieve with: edgegatectl admin-token)")
	}
	h.persist(logger)
	return h, nil
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate admin token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Get returns the current admin token.
func (h *AdminTokenHolder) Get() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// ConstantTimeEqual reports whether provided matches the current token.
func (h *AdminTokenHolder) ConstantTimeEqual(provided string) bool {
	h.mu.RLock()
	current := h.token
	h.mu.RUnlock()
	return subtle.ConstantTimeCompare([]byte(provided), []byte(current)) == 1
}

// Rotate generates a new random token, persists it, and returns it.
func (h *AdminTokenHolder) Rotate(logger *slog.Logger) (string, error) {
	tok, err := randomToken()
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	h.token = tok
	h.mu.Unlock()
	h.persist(logger)
	return tok, nil
}

// Middleware rejects requests without "Authorization: Bearer <admin token>".
func (h *AdminTokenHolder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			slog.Warn("admin auth: missing token", slog.String("ip", r.RemoteAddr), slog.String("path", r.URL.Path))
			jsonError(w, "authorization required", http.StatusUnauthorized)
			return
		}
		if !h.ConstantTimeEqual(token) {
			slog.Warn("admin auth: invalid token", slog.String("ip", r.RemoteAddr), slog.String("path", r.URL.Path))
			jsonError(w, "invalid admin token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// dataDir returns the directory holding a file-backed DSN, or "".
func (h *AdminTokenHolder) dataDir() string {
	dsn := strings.TrimPrefix(h.dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	if dsn == "" || dsn == ":memory:" || strings.Contains(dsn, "://") {
		return ""
	}
	return filepath.Dir(dsn)
}

func (h *AdminTokenHolder) readPersisted() string {
	dir := h.dataDir()
	if dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, ".admin-token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (h *AdminTokenHolder) persist(logger *slog.Logger) {
	dir := h.dataDir()
	if dir == "" {
		return
	}
	token := h.Get()
	if err := os.WriteFile(filepath.Join(dir, ".admin-token"), []byte(token+"\n"), 0600); err != nil {
		logger.Warn("failed to write admin token file", slog.String("error", err.Error()))
	}
}
