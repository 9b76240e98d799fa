package storage

import (
	"cmp"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/blake2b"
)

// digestPayload is the part of a container covered by its digest.
type digestPayload struct {
	Objects []Binding `json:"objects"`
	Links   []Binding `json:"links"`
	Roles   []RoleDef `json:"roles"`
	Query   string    `json:"query,omitempty"`
}

func compareBindings(a, b Binding) int {
	if c := cmp.Compare(a.Match, b.Match); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Role, b.Role); c != 0 {
		return c
	}
	return cmp.Compare(a.Item, b.Item)
}

// ContainerDigest returns the blake2b-256 digest of the container's
// bindings, roles and query, hex encoded.
//
// Bindings are sorted and the JSON form is canonicalized (RFC 8785) before
// hashing, so the digest does not depend on binding order or on the
// encoder's field layout.
func ContainerDigest(c *Container) (string, error) {
	p := digestPayload{
		Objects: slices.SortedFunc(slices.Values(c.Objects), compareBindings),
		Links:   slices.SortedFunc(slices.Values(c.Links), compareBindings),
		Roles:   slices.SortedFunc(slices.Values(c.Roles), func(a, b RoleDef) int { return cmp.Compare(a.Name, b.Name) }),
		Query:   c.Query,
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to encode container: %w", err)
	}
	data, err = jcs.Transform(data)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize container: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// sealContainer returns a copy of c with CreatedAt and Digest filled in.
func sealContainer(c *Container) (*Container, error) {
	if c == nil || c.Name == "" {
		return nil, ErrInvalidData
	}
	out := &Container{
		Name:      c.Name,
		Objects:   slices.Clone(c.Objects),
		Links:     slices.Clone(c.Links),
		Roles:     slices.Clone(c.Roles),
		Query:     c.Query,
		CreatedAt: c.CreatedAt,
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	digest, err := ContainerDigest(out)
	if err != nil {
		return nil, err
	}
	out.Digest = digest
	return out, nil
}

// verifyContainer recomputes the digest of a loaded container.
func verifyContainer(c *Container) error {
	digest, err := ContainerDigest(c)
	if err != nil {
		return err
	}
	if digest != c.Digest {
		return fmt.Errorf("%w: container %q", ErrDigestMismatch, c.Name)
	}
	return nil
}

func cloneContainer(c *Container) *Container {
	return &Container{
		Name:      c.Name,
		Objects:   slices.Clone(c.Objects),
		Links:     slices.Clone(c.Links),
		Roles:     slices.Clone(c.Roles),
		Query:     c.Query,
		CreatedAt: c.CreatedAt,
		Digest:    c.Digest,
	}
}
