// Package registryauth resolves registry credentials for the remote image
// reader (original spec §4.10, component J): a small provider-chain
// abstraction queried by host and optional repository scope, returning
// either credentials or a distinguished "no credentials" result so the
// common anonymous-pull case is never treated as an error.
package registryauth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/rs/zerolog/log"

	"github.com/orf/docker-repack/pkg/repackerr"
)

// ErrNoCredentials is returned by a Provider that has nothing to offer for
// the requested registry; callers fall back to anonymous access rather
// than treating it as fatal. It is the shared repackerr sentinel.
var ErrNoCredentials = repackerr.ErrNoCredentials

// Provider resolves credentials for one registry host, optionally scoped to
// a repository path within it.
type Provider interface {
	GetCredentials(ctx context.Context, host, scope string) (*authn.AuthConfig, error)
	Name() string
}

// PublicProvider always reports no credentials, the default when nothing
// else is configured.
type PublicProvider struct{}

func (PublicProvider) GetCredentials(context.Context, string, string) (*authn.AuthConfig, error) {
	return nil, ErrNoCredentials
}

func (PublicProvider) Name() string { return "public" }

// StaticProvider returns caller-supplied credentials keyed by registry
// host, with glob-style wildcard matching (e.g.
// "*.dkr.ecr.*.amazonaws.com").
type StaticProvider struct {
	credentials map[string]*authn.AuthConfig
}

func NewStaticProvider(credentials map[string]*authn.AuthConfig) *StaticProvider {
	return &StaticProvider{credentials: credentials}
}

func (p *StaticProvider) GetCredentials(_ context.Context, host, _ string) (*authn.AuthConfig, error) {
	if creds, ok := p.credentials[host]; ok {
		return creds, nil
	}
	for pattern, creds := range p.credentials {
		if matchHostPattern(pattern, host) {
			return creds, nil
		}
	}
	return nil, ErrNoCredentials
}

func (p *StaticProvider) Name() string { return "static" }

// matchHostPattern matches host against pattern, where "*" in pattern
// matches any run of characters (original spec §4.10's ECR wildcard
// example).
func matchHostPattern(pattern, host string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == host
	}

	parts := strings.Split(pattern, "*")
	if parts[0] != "" && !strings.HasPrefix(host, parts[0]) {
		return false
	}
	if last := parts[len(parts)-1]; last != "" && !strings.HasSuffix(host, last) {
		return false
	}

	pos := 0
	for i, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(host[pos:], part)
		if idx == -1 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(part)
	}
	return true
}

// EnvProvider reads credentials from DOCKER_REPACK_REGISTRY_USER_<HOST> /
// DOCKER_REPACK_REGISTRY_PASS_<HOST> environment variables, host
// normalized to upper-case with '.'/'-' mapped to '_'.
type EnvProvider struct{}

func (EnvProvider) GetCredentials(_ context.Context, host, _ string) (*authn.AuthConfig, error) {
	norm := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(host))
	userKey := "DOCKER_REPACK_REGISTRY_USER_" + norm
	user := os.Getenv(userKey)
	if user == "" {
		return nil, ErrNoCredentials
	}
	return &authn.AuthConfig{
		Username: user,
		Password: os.Getenv("DOCKER_REPACK_REGISTRY_PASS_" + norm),
	}, nil
}

func (EnvProvider) Name() string { return "env" }

// KeychainProvider delegates to go-containerregistry's default keychain,
// which itself understands Docker config, credential helpers, and cloud
// ambient credentials.
type KeychainProvider struct {
	keychain authn.Keychain
}

func NewKeychainProvider() *KeychainProvider {
	return &KeychainProvider{keychain: authn.DefaultKeychain}
}

func (p *KeychainProvider) GetCredentials(_ context.Context, host, _ string) (*authn.AuthConfig, error) {
	reg, err := name.NewRegistry(host)
	if err != nil {
		return nil, fmt.Errorf("parsing registry host %q: %w", host, err)
	}
	authenticator, err := p.keychain.Resolve(reg)
	if err != nil {
		return nil, fmt.Errorf("resolving keychain for %q: %w", host, err)
	}
	cfg, err := authenticator.Authorization()
	if err != nil {
		return nil, fmt.Errorf("reading keychain authorization for %q: %w", host, err)
	}
	if cfg == nil || (cfg.Username == "" && cfg.RegistryToken == "" && cfg.IdentityToken == "" && cfg.Auth == "") {
		return nil, ErrNoCredentials
	}
	return cfg, nil
}

func (p *KeychainProvider) Name() string { return "keychain" }

// ChainedProvider tries each provider in order, returning the first
// non-ErrNoCredentials result.
type ChainedProvider struct {
	providers []Provider
}

func NewChainedProvider(providers ...Provider) *ChainedProvider {
	return &ChainedProvider{providers: providers}
}

func (p *ChainedProvider) GetCredentials(ctx context.Context, host, scope string) (*authn.AuthConfig, error) {
	for _, provider := range p.providers {
		creds, err := provider.GetCredentials(ctx, host, scope)
		if err == nil {
			log.Debug().Str("host", host).Str("provider", provider.Name()).Msg("resolved registry credentials")
			return creds, nil
		}
		if !errors.Is(err, ErrNoCredentials) {
			log.Debug().Err(err).Str("host", host).Str("provider", provider.Name()).Msg("registry provider error, trying next")
		}
	}
	return nil, ErrNoCredentials
}

func (p *ChainedProvider) Name() string {
	names := make([]string, len(p.providers))
	for i, provider := range p.providers {
		names[i] = provider.Name()
	}
	return "chain[" + strings.Join(names, ",") + "]"
}

// CachingProvider wraps another provider with a TTL cache, so short-lived
// tokens (ECR, GCR) aren't re-fetched per blob request.
type CachingProvider struct {
	base Provider
	ttl  time.Duration

	mu    sync.Mutex
	cache map[string]cachedEntry
}

type cachedEntry struct {
	config    *authn.AuthConfig
	expiresAt time.Time
}

func NewCachingProvider(base Provider, ttl time.Duration) *CachingProvider {
	return &CachingProvider{base: base, ttl: ttl, cache: make(map[string]cachedEntry)}
}

func (p *CachingProvider) GetCredentials(ctx context.Context, host, scope string) (*authn.AuthConfig, error) {
	key := host + "/" + scope

	p.mu.Lock()
	if e, ok := p.cache[key]; ok && time.Now().Before(e.expiresAt) {
		p.mu.Unlock()
		return e.config, nil
	}
	p.mu.Unlock()

	creds, err := p.base.GetCredentials(ctx, host, scope)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[key] = cachedEntry{config: creds, expiresAt: time.Now().Add(p.ttl)}
	p.mu.Unlock()
	return creds, nil
}

func (p *CachingProvider) Name() string { return "caching[" + p.base.Name() + "]" }
