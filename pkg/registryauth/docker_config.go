package registryauth

import (
	"context"
	"os"

	"github.com/docker/cli/cli/config"
	"github.com/docker/cli/cli/config/credentials"
	"github.com/google/go-containerregistry/pkg/authn"
)

// dockerHubVariants is the set of hostnames Docker's config.json has
// historically stored Docker Hub credentials under; a lookup for
// "index.docker.io" or "docker.io" falls back through these in order.
var dockerHubVariants = []string{
	"https://index.docker.io/v1/",
	"index.docker.io",
	"docker.io",
	"registry-1.docker.io",
}

// DockerConfigProvider reads credentials from ~/.docker/config.json (or
// $DOCKER_CONFIG/config.json), delegating to the configured credential
// store/helper via docker/cli's own config loader rather than hand-parsing
// base64 auth entries.
type DockerConfigProvider struct {
	configDir string
}

// NewDockerConfigProvider creates a provider reading from configDir; an
// empty configDir uses docker/cli's default resolution ($DOCKER_CONFIG or
// ~/.docker).
func NewDockerConfigProvider(configDir string) *DockerConfigProvider {
	return &DockerConfigProvider{configDir: configDir}
}

func (p *DockerConfigProvider) GetCredentials(_ context.Context, host, _ string) (*authn.AuthConfig, error) {
	dir := p.configDir
	if dir == "" {
		dir = config.Dir()
	}

	cfg, err := config.Load(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, err
	}
	if !cfg.ContainsAuth() {
		cfg.CredentialsStore = credentials.DetectDefaultStore(cfg.CredentialsStore)
	}

	candidates := []string{host}
	if isDockerHubHost(host) {
		candidates = append(candidates, dockerHubVariants...)
	}

	for _, candidate := range candidates {
		auth, err := cfg.GetAuthConfig(candidate)
		if err != nil {
			continue
		}
		if auth.IdentityToken != "" {
			return &authn.AuthConfig{IdentityToken: auth.IdentityToken}, nil
		}
		if auth.Username != "" || auth.Password != "" {
			return &authn.AuthConfig{Username: auth.Username, Password: auth.Password}, nil
		}
	}

	return nil, ErrNoCredentials
}

func (p *DockerConfigProvider) Name() string { return "docker-config" }

func isDockerHubHost(host string) bool {
	switch host {
	case "index.docker.io", "docker.io", "registry-1.docker.io":
		return true
	default:
		return false
	}
}
