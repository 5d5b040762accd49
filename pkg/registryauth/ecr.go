package registryauth

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/google/go-containerregistry/pkg/authn"
)

// ECRProviderConfig configures an ECRProvider.
type ECRProviderConfig struct {
	AccessKey       string
	SecretKey       string
	SessionToken    string
	Region          string
	RegistryPattern string        // default "*.dkr.ecr.*.amazonaws.com"
	CacheTTL        time.Duration // default 11h; ECR tokens are valid 12h
}

// ECRProvider exchanges AWS credentials for a short-lived ECR authorization
// token via ecr:GetAuthorizationToken, caching the result for CacheTTL.
type ECRProvider struct {
	cfg ECRProviderConfig

	mu     sync.Mutex
	cached *cachedEntry
}

func NewECRProvider(cfg ECRProviderConfig) *ECRProvider {
	if cfg.RegistryPattern == "" {
		cfg.RegistryPattern = "*.dkr.ecr.*.amazonaws.com"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 11 * time.Hour
	}
	return &ECRProvider{cfg: cfg}
}

func (p *ECRProvider) GetCredentials(ctx context.Context, host, _ string) (*authn.AuthConfig, error) {
	if !matchHostPattern(p.cfg.RegistryPattern, host) {
		return nil, ErrNoCredentials
	}

	p.mu.Lock()
	if p.cached != nil && time.Now().Before(p.cached.expiresAt) {
		creds := p.cached.config
		p.mu.Unlock()
		return creds, nil
	}
	p.mu.Unlock()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(p.cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			p.cfg.AccessKey, p.cfg.SecretKey, p.cfg.SessionToken)),
	)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for ECR: %w", err)
	}

	client := ecr.NewFromConfig(awsCfg)
	out, err := client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, fmt.Errorf("fetching ECR authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 || out.AuthorizationData[0].AuthorizationToken == nil {
		return nil, fmt.Errorf("ECR returned no authorization data")
	}

	decoded, err := base64.StdEncoding.DecodeString(*out.AuthorizationData[0].AuthorizationToken)
	if err != nil {
		return nil, fmt.Errorf("decoding ECR authorization token: %w", err)
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return nil, fmt.Errorf("malformed ECR authorization token")
	}

	creds := &authn.AuthConfig{Username: user, Password: pass}

	p.mu.Lock()
	p.cached = &cachedEntry{config: creds, expiresAt: time.Now().Add(p.cfg.CacheTTL)}
	p.mu.Unlock()

	return creds, nil
}

func (p *ECRProvider) Name() string { return "ecr[" + p.cfg.Region + "]" }
