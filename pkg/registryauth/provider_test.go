package registryauth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicProvider(t *testing.T) {
	var p PublicProvider
	creds, err := p.GetCredentials(context.Background(), "ghcr.io", "")
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Nil(t, creds)
	assert.Equal(t, "public", p.Name())
}

func TestStaticProviderExactAndWildcard(t *testing.T) {
	p := NewStaticProvider(map[string]*authn.AuthConfig{
		"ghcr.io":                   {Username: "testuser", Password: "testpass"},
		"*.dkr.ecr.*.amazonaws.com": {Username: "ecruser"},
	})

	creds, err := p.GetCredentials(context.Background(), "ghcr.io", "some/repo")
	require.NoError(t, err)
	assert.Equal(t, "testuser", creds.Username)

	creds, err = p.GetCredentials(context.Background(), "123456789012.dkr.ecr.us-east-1.amazonaws.com", "")
	require.NoError(t, err)
	assert.Equal(t, "ecruser", creds.Username)

	_, err = p.GetCredentials(context.Background(), "unknown.io", "")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestDockerConfigProviderReadsAuthsAndHubVariants(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	dockerConfig := map[string]any{
		"auths": map[string]any{
			"ghcr.io": map[string]string{
				"auth": base64.StdEncoding.EncodeToString([]byte("testuser:testpass")),
			},
			"https://index.docker.io/v1/": map[string]string{
				"auth": base64.StdEncoding.EncodeToString([]byte("dockeruser:dockerpass")),
			},
		},
	}
	data, err := json.Marshal(dockerConfig)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0o644))

	provider := NewDockerConfigProvider(tmpDir)

	creds, err := provider.GetCredentials(context.Background(), "ghcr.io", "")
	require.NoError(t, err)
	assert.Equal(t, "testuser", creds.Username)
	assert.Equal(t, "testpass", creds.Password)

	for _, host := range []string{"index.docker.io", "docker.io", "registry-1.docker.io"} {
		creds, err := provider.GetCredentials(context.Background(), host, "")
		require.NoError(t, err, "host %s", host)
		assert.Equal(t, "dockeruser", creds.Username)
	}

	_, err = provider.GetCredentials(context.Background(), "unknown.io", "")
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Equal(t, "docker-config", provider.Name())
}

func TestEnvProviderReadsNormalizedHostVars(t *testing.T) {
	t.Setenv("DOCKER_REPACK_REGISTRY_USER_GHCR_IO", "envuser")
	t.Setenv("DOCKER_REPACK_REGISTRY_PASS_GHCR_IO", "envpass")

	var p EnvProvider
	creds, err := p.GetCredentials(context.Background(), "ghcr.io", "")
	require.NoError(t, err)
	assert.Equal(t, "envuser", creds.Username)
	assert.Equal(t, "envpass", creds.Password)

	_, err = p.GetCredentials(context.Background(), "unknown.io", "")
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestChainedProviderFirstHitWins(t *testing.T) {
	p1 := NewStaticProvider(map[string]*authn.AuthConfig{"ghcr.io": {Username: "user1"}})
	p2 := NewStaticProvider(map[string]*authn.AuthConfig{"docker.io": {Username: "user2"}})
	chained := NewChainedProvider(p1, p2)

	creds, err := chained.GetCredentials(context.Background(), "docker.io", "")
	require.NoError(t, err)
	assert.Equal(t, "user2", creds.Username)

	_, err = chained.GetCredentials(context.Background(), "unknown.io", "")
	assert.ErrorIs(t, err, ErrNoCredentials)
	assert.Contains(t, chained.Name(), "chain")
}

type fakeProvider struct {
	calls int
	name  string
	creds *authn.AuthConfig
}

func (p *fakeProvider) GetCredentials(context.Context, string, string) (*authn.AuthConfig, error) {
	p.calls++
	return p.creds, nil
}

func (p *fakeProvider) Name() string { return p.name }

func TestCachingProviderReusesWithinTTLAndExpires(t *testing.T) {
	base := &fakeProvider{name: "fake", creds: &authn.AuthConfig{Username: "cached-user"}}
	p := NewCachingProvider(base, 50*time.Millisecond)

	creds, err := p.GetCredentials(context.Background(), "ghcr.io", "")
	require.NoError(t, err)
	assert.Equal(t, "cached-user", creds.Username)
	assert.Equal(t, 1, base.calls)

	_, err = p.GetCredentials(context.Background(), "ghcr.io", "")
	require.NoError(t, err)
	assert.Equal(t, 1, base.calls, "second call within TTL should hit cache")

	time.Sleep(75 * time.Millisecond)
	_, err = p.GetCredentials(context.Background(), "ghcr.io", "")
	require.NoError(t, err)
	assert.Equal(t, 2, base.calls, "call after TTL expiry should refetch")

	assert.Contains(t, p.Name(), "caching")
	assert.Contains(t, p.Name(), "fake")
}

func TestMatchHostPattern(t *testing.T) {
	cases := []struct {
		pattern, host string
		want          bool
	}{
		{"*", "anything", true},
		{"ghcr.io", "ghcr.io", true},
		{"ghcr.io", "docker.io", false},
		{"*.dkr.ecr.*.amazonaws.com", "123456789012.dkr.ecr.us-east-1.amazonaws.com", true},
		{"*.dkr.ecr.*.amazonaws.com", "example.com", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, matchHostPattern(c.pattern, c.host), "%s vs %s", c.pattern, c.host)
	}
}

func TestDefaultChainIncludesEnvDockerConfigAndKeychain(t *testing.T) {
	chain := DefaultChain()
	assert.Contains(t, chain.Name(), "env")
	assert.Contains(t, chain.Name(), "docker-config")
	assert.Contains(t, chain.Name(), "keychain")
}
