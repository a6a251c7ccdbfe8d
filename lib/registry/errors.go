package registry

import "errors"

var (
	ErrAuth       = errors.New("registry authentication failed")
	ErrManifest   = errors.New("manifest not resolvable")
	ErrLayerFetch = errors.New("layer fetch failed")
)
