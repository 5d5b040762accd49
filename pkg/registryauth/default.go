package registryauth

import "time"

// DefaultChain returns the provider chain the remote image reader
// (component I) uses unless the caller configures something more specific:
// environment variables first, then Docker's config file, then the ambient
// keychain, wrapped in a short TTL cache so repeated blob fetches against
// the same registry don't repeatedly hit slower providers.
func DefaultChain() Provider {
	return NewCachingProvider(
		NewChainedProvider(
			EnvProvider{},
			NewDockerConfigProvider(""),
			NewKeychainProvider(),
		),
		5*time.Minute,
	)
}
