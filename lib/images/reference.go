package images

import (
	"fmt"

	"github.com/distribution/reference"
)

// Reference is a validated image reference. Name is the familiar name the
// user typed, keyed into the on-disk layout as-is so distinct repositories
// never share a store path; Repository is the registry-side path the
// namespace expands to.
//
// Examples:
//   - "alpine"          -> Name "alpine",    Tag "latest", Repository "library/alpine"
//   - "alpine:3.18"     -> Name "alpine",    Tag "3.18",   Repository "library/alpine"
//   - "myorg/app:v1"    -> Name "myorg/app", Tag "v1",     Repository "myorg/app"
type Reference struct {
	Name       string
	Tag        string
	Repository string
}

// ParseReference validates and normalizes a user-supplied image reference.
// An absent tag defaults to "latest". Digest references are rejected; the
// store is keyed by (name, tag) only.
func ParseReference(s string) (Reference, error) {
	named, err := reference.ParseNormalizedNamed(s)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %q: %v", ErrInvalidReference, s, err)
	}

	if _, ok := named.(reference.Canonical); ok {
		return Reference{}, fmt.Errorf("%w: %q: digest references are not supported", ErrInvalidReference, s)
	}

	tagged := reference.TagNameOnly(named)
	tag := "latest"
	if t, ok := tagged.(reference.Tagged); ok {
		tag = t.Tag()
	}

	return Reference{
		Name:       reference.FamiliarName(named),
		Tag:        tag,
		Repository: reference.Path(named),
	}, nil
}

// String returns the short form used in messages and container identities.
func (r Reference) String() string {
	return r.Name + ":" + r.Tag
}
