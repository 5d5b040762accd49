package ociinput

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	digest "github.com/opencontainers/go-digest"
	ispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/orf/docker-repack/pkg/registryauth"
	"github.com/orf/docker-repack/pkg/repackerr"
)

// ReadRemoteOptions configures ReadRemote.
type ReadRemoteOptions struct {
	// Auth resolves registry credentials; defaults to registryauth.DefaultChain().
	Auth registryauth.Provider
	// Platform narrows a manifest-list reference to one image. Zero value
	// defaults to linux/amd64.
	Platform ispec.Platform
}

// ReadRemote resolves a "host/repo[:tag|@digest]" reference against a
// registry and reads it into a SourceImage. Layer blobs are opened lazily,
// as streaming reads straight off the registry's compressed transfer, so
// the caller controls how many are fetched concurrently.
func ReadRemote(ctx context.Context, ref string, opts ReadRemoteOptions) (*SourceImage, error) {
	if opts.Auth == nil {
		opts.Auth = registryauth.DefaultChain()
	}
	platform := opts.Platform
	if platform.OS == "" && platform.Architecture == "" {
		platform = ispec.Platform{OS: "linux", Architecture: "amd64"}
	}

	parsed, err := name.ParseReference(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing reference %q: %w", repackerr.ErrInputMalformed, ref, err)
	}

	img, err := remote.Image(parsed,
		remote.WithContext(ctx),
		remote.WithAuth(&providerAuthenticator{ctx: ctx, provider: opts.Auth, host: parsed.Context().RegistryStr()}),
		remote.WithPlatform(v1.Platform{OS: platform.OS, Architecture: platform.Architecture, Variant: platform.Variant}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching image %q: %w", repackerr.ErrInputMalformed, ref, err)
	}

	cfgFile, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("%w: reading config for %q: %w", repackerr.ErrInputMalformed, ref, err)
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("%w: listing layers for %q: %w", repackerr.ErrInputMalformed, ref, err)
	}

	refs := make([]LayerRef, len(layers))
	byDigest := make(map[digest.Digest]v1.Layer, len(layers))
	for i, l := range layers {
		h, err := l.Digest()
		if err != nil {
			return nil, fmt.Errorf("%w: layer %d digest: %w", repackerr.ErrInputMalformed, i, err)
		}
		size, err := l.Size()
		if err != nil {
			return nil, fmt.Errorf("%w: layer %d size: %w", repackerr.ErrInputMalformed, i, err)
		}
		mt, err := l.MediaType()
		if err != nil {
			return nil, fmt.Errorf("%w: layer %d media type: %w", repackerr.ErrInputMalformed, i, err)
		}
		d := digest.Digest(h.String())
		codec, err := codecForMediaType(string(mt))
		if err != nil {
			return nil, fmt.Errorf("%w: layer %d: %w", repackerr.ErrInputMalformed, i, err)
		}
		refs[i] = LayerRef{Digest: d, Size: size, MediaType: string(mt), Codec: codec}
		byDigest[d] = l
	}

	return &SourceImage{
		Config:   convertConfigFile(cfgFile),
		Platform: platform,
		Layers:   refs,
		open: func(d digest.Digest) (io.ReadCloser, error) {
			l, ok := byDigest[d]
			if !ok {
				return nil, fmt.Errorf("%w: layer %s not present in fetched image", repackerr.ErrInputMalformed, d)
			}
			return l.Compressed()
		},
	}, nil
}

// providerAuthenticator adapts a registryauth.Provider to go-containerregistry's
// authn.Authenticator so the provider chain (component J) backs every
// registry request the same way regardless of which library issues it.
type providerAuthenticator struct {
	ctx      context.Context
	provider registryauth.Provider
	host     string
}

func (a *providerAuthenticator) Authorization() (*authn.AuthConfig, error) {
	creds, err := a.provider.GetCredentials(a.ctx, a.host, "")
	if err != nil {
		if errors.Is(err, registryauth.ErrNoCredentials) {
			return authn.Anonymous.Authorization()
		}
		return nil, err
	}
	return creds, nil
}

func convertConfigFile(cf *v1.ConfigFile) ispec.Image {
	img := ispec.Image{
		Architecture: cf.Architecture,
		OS:           cf.OS,
		OSVersion:    cf.OSVersion,
		Variant:      cf.Variant,
		Author:       cf.Author,
		Config: ispec.ImageConfig{
			User:         cf.Config.User,
			Env:          cf.Config.Env,
			Entrypoint:   cf.Config.Entrypoint,
			Cmd:          cf.Config.Cmd,
			Volumes:      cf.Config.Volumes,
			WorkingDir:   cf.Config.WorkingDir,
			Labels:       cf.Config.Labels,
			StopSignal:   cf.Config.StopSignal,
			ExposedPorts: convertExposedPorts(cf.Config.ExposedPorts),
		},
	}
	if !cf.Created.IsZero() {
		created := cf.Created.Time
		img.Created = &created
	}

	img.RootFS.Type = cf.RootFS.Type
	img.RootFS.DiffIDs = make([]digest.Digest, len(cf.RootFS.DiffIDs))
	for i, h := range cf.RootFS.DiffIDs {
		img.RootFS.DiffIDs[i] = digest.Digest(h.String())
	}

	img.History = make([]ispec.History, len(cf.History))
	for i, h := range cf.History {
		entry := ispec.History{
			CreatedBy:  h.CreatedBy,
			Author:     h.Author,
			Comment:    h.Comment,
			EmptyLayer: h.EmptyLayer,
		}
		if !h.Created.IsZero() {
			created := h.Created.Time
			entry.Created = &created
		}
		img.History[i] = entry
	}

	return img
}

func convertExposedPorts(ports map[string]struct{}) map[string]struct{} {
	if ports == nil {
		return nil
	}
	out := make(map[string]struct{}, len(ports))
	for k, v := range ports {
		out[k] = v
	}
	return out
}
