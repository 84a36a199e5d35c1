// -----------------------------------------------------------------------
// Auth - Bearer verification against an OpenID provider
// -----------------------------------------------------------------------

package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/caelum/internal/common"
	"github.com/ternarybob/caelum/internal/interfaces"
	"golang.org/x/oauth2"
)

// AnonymousUser is the tenancy key used when auth is disabled.
const AnonymousUser = "anonymous"

// Service verifies bearer tokens by calling the provider's userinfo
// endpoint. A 200 reply with an email claim authenticates the caller; the
// sanitized email becomes the tenancy key.
type Service struct {
	cfg    *common.AuthConfig
	logger arbor.ILogger
}

type userinfo struct {
	Email string `json:"email"`
	Sub   string `json:"sub"`
}

// NewService creates the auth adapter.
func NewService(cfg *common.AuthConfig, logger arbor.ILogger) interfaces.AuthService {
	return &Service{cfg: cfg, logger: logger}
}

// Authenticate resolves the request identity. With auth disabled every
// caller shares the anonymous partition.
func (s *Service) Authenticate(r *http.Request) (string, error) {
	if !s.cfg.Enabled {
		return AnonymousUser, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header || token == "" {
		return "", fmt.Errorf("malformed Authorization header")
	}

	client := oauth2.NewClient(r.Context(),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))

	resp, err := client.Get(s.cfg.UserinfoURL)
	if err != nil {
		return "", fmt.Errorf("userinfo request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token rejected by provider (HTTP %d)", resp.StatusCode)
	}

	var info userinfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to decode userinfo: %w", err)
	}
	if info.Email == "" {
		return "", fmt.Errorf("userinfo reply carries no email claim")
	}

	return TenancyKey(info.Email), nil
}

// TenancyKey sanitizes an identity into a partition name: @ and . become _.
func TenancyKey(email string) string {
	key := strings.ReplaceAll(email, "@", "_")
	return strings.ReplaceAll(key, ".", "_")
}
