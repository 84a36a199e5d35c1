package slurm

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenManager mints the HS256 tokens slurmrestd expects and renews them
// inline on the request path. Claims follow the slurmctld JWT contract:
// {iat, exp, sun=<username>}.
type tokenManager struct {
	key      []byte
	username string
	ttl      time.Duration
	headroom time.Duration
	now      func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

func newTokenManager(keyPath, username string, ttl, headroom time.Duration) (*tokenManager, error) {
	key, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key = []byte(strings.TrimSpace(string(key)))
	if len(key) == 0 {
		return nil, fmt.Errorf("signing key %s is empty", keyPath)
	}

	return &tokenManager{
		key:      key,
		username: username,
		ttl:      ttl,
		headroom: headroom,
		now:      time.Now,
	}, nil
}

// Token returns a token valid for at least the headroom window, minting a
// fresh one when the cached token is expired or close to it. Single writer:
// concurrent callers serialize on the mutex so only one renewal happens.
func (m *tokenManager) Token() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.token != "" && m.expiry.Sub(now) > m.headroom {
		return m.token, nil
	}

	expiry := now.Add(m.ttl)
	claims := jwt.MapClaims{
		"iat": now.Unix(),
		"exp": expiry.Unix(),
		"sun": m.username,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	m.token = token
	m.expiry = expiry
	return token, nil
}
