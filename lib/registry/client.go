// Package registry implements the client side of the v2 registry protocol:
// bearer-token authentication, manifest and index resolution, and
// content-addressed blob retrieval.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Docker media types predate the OCI spec and are still what Docker Hub
// serves for most images. The OCI types come from image-spec.
const (
	mediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	mediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
	mediaTypeDockerManifestV1   = "application/vnd.docker.distribution.manifest.v1+json"
)

// acceptHeader enumerates every manifest document type the client can
// consume. The registry decides which one it returns.
var acceptHeader = strings.Join([]string{
	mediaTypeDockerManifest,
	mediaTypeDockerManifestList,
	mediaTypeDockerManifestV1,
	ocispec.MediaTypeImageManifest,
	ocispec.MediaTypeImageIndex,
}, ", ")

// ClientConfig carries the endpoints and the fixed target platform for a
// Client. A pull always resolves to the manifest matching OS/Arch.
type ClientConfig struct {
	RegistryURL string
	AuthURL     string
	AuthService string
	OS          string
	Arch        string
}

// Client talks to one registry. All calls are single-attempt and block on
// the caller's context; there is no retry or timeout policy of its own.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  *slog.Logger
}

func NewClient(cfg ClientConfig, log *slog.Logger) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
		log:  log,
	}
}

// tokenResponse is the token endpoint's document. Docker Hub populates both
// fields; some registries only set access_token.
type tokenResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"access_token"`
}

// Authenticate requests a bearer token scoped to pulling the given
// repository. An empty AuthURL disables authentication (local registries).
func (c *Client) Authenticate(ctx context.Context, repo string) (string, error) {
	if c.cfg.AuthURL == "" {
		return "", nil
	}

	url := fmt.Sprintf("%s?service=%s&scope=repository:%s:pull", c.cfg.AuthURL, c.cfg.AuthService, repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %s", ErrAuth, resp.Status)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("%w: decode token response: %v", ErrAuth, err)
	}

	token := tok.Token
	if token == "" {
		token = tok.AccessToken
	}
	if token == "" {
		return "", fmt.Errorf("%w: no usable token for %s", ErrAuth, repo)
	}

	return token, nil
}

// ResolveManifest fetches the manifest for a tag. When the registry returns
// a manifest list or OCI index, the entry matching the configured platform
// is selected and re-fetched by digest; the caller never sees the
// indirection.
func (c *Client) ResolveManifest(ctx context.Context, repo, tag, token string) (*ocispec.Manifest, error) {
	body, contentType, err := c.getManifest(ctx, repo, tag, token)
	if err != nil {
		return nil, err
	}

	if isIndexMediaType(contentType) {
		dgst, err := c.selectPlatform(body)
		if err != nil {
			return nil, err
		}
		c.log.Debug("platform manifest selected", "repo", repo, "digest", dgst.String())

		body, contentType, err = c.getManifest(ctx, repo, dgst.String(), token)
		if err != nil {
			return nil, err
		}
		if isIndexMediaType(contentType) {
			return nil, fmt.Errorf("%w: nested index for %s:%s", ErrManifest, repo, tag)
		}
	}

	var manifest ocispec.Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("%w: decode manifest for %s:%s: %v", ErrManifest, repo, tag, err)
	}

	// An image with no layers is not pullable; surface it here rather
	// than reporting a silent empty pull.
	if len(manifest.Layers) == 0 {
		return nil, fmt.Errorf("%w: manifest for %s:%s declares no layers", ErrManifest, repo, tag)
	}

	return &manifest, nil
}

// getManifest performs one GET against the manifest endpoint. The reference
// may be a tag or a digest string.
func (c *Client) getManifest(ctx context.Context, repo, ref, token string) ([]byte, string, error) {
	url := fmt.Sprintf("%s/v2/%s/manifests/%s", c.cfg.RegistryURL, repo, ref)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build manifest request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrManifest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: %s/%s returned %s", ErrManifest, repo, ref, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("%w: read manifest body: %v", ErrManifest, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		// Fall back to the embedded media type for registries that
		// omit the header.
		var probe struct {
			MediaType string `json:"mediaType"`
		}
		_ = json.Unmarshal(body, &probe)
		contentType = probe.MediaType
	}

	return body, contentType, nil
}

// selectPlatform picks the index entry for the configured platform.
func (c *Client) selectPlatform(body []byte) (digest.Digest, error) {
	var index ocispec.Index
	if err := json.Unmarshal(body, &index); err != nil {
		return "", fmt.Errorf("%w: decode index: %v", ErrManifest, err)
	}

	for _, desc := range index.Manifests {
		if desc.Platform == nil {
			continue
		}
		if desc.Platform.Architecture == c.cfg.Arch && desc.Platform.OS == c.cfg.OS {
			return desc.Digest, nil
		}
	}

	return "", fmt.Errorf("%w: no manifest for platform %s/%s", ErrManifest, c.cfg.OS, c.cfg.Arch)
}

func isIndexMediaType(mediaType string) bool {
	return mediaType == mediaTypeDockerManifestList || mediaType == ocispec.MediaTypeImageIndex
}

// FetchLayer downloads one blob by digest. The returned reader verifies the
// stream against the digest; Close reports ErrLayerFetch when the content
// does not hash to what the manifest declared.
func (c *Client) FetchLayer(ctx context.Context, repo string, dgst digest.Digest, token string) (io.ReadCloser, error) {
	if err := dgst.Validate(); err != nil {
		return nil, fmt.Errorf("%w: invalid digest %q: %v", ErrLayerFetch, dgst, err)
	}

	url := fmt.Sprintf("%s/v2/%s/blobs/%s", c.cfg.RegistryURL, repo, dgst)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build blob request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLayerFetch, dgst, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s returned %s", ErrLayerFetch, dgst, resp.Status)
	}

	verifier := dgst.Verifier()
	return &verifiedReadCloser{
		body:     resp.Body,
		tee:      io.TeeReader(resp.Body, verifier),
		verifier: verifier,
		digest:   dgst,
	}, nil
}

// verifiedReadCloser hashes the blob as it streams through and rejects it
// on Close if the digest does not match.
type verifiedReadCloser struct {
	body     io.ReadCloser
	tee      io.Reader
	verifier digest.Verifier
	digest   digest.Digest
}

func (v *verifiedReadCloser) Read(p []byte) (int, error) {
	return v.tee.Read(p)
}

func (v *verifiedReadCloser) Close() error {
	// Drain so the verifier sees the whole blob even if the caller
	// stopped at EOF already.
	_, copyErr := io.Copy(io.Discard, v.tee)
	closeErr := v.body.Close()

	if copyErr != nil {
		return fmt.Errorf("%w: %s: %v", ErrLayerFetch, v.digest, copyErr)
	}
	if closeErr != nil {
		return closeErr
	}
	if !v.verifier.Verified() {
		return fmt.Errorf("%w: %s: digest mismatch", ErrLayerFetch, v.digest)
	}
	return nil
}
