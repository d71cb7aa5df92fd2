// Package prompts is a content-addressed registry of prompt templates.
// Templates are keyed by a logical name; each distinct template body gets
// an auto-incremented version and re-registering unchanged text returns
// the existing version, so deploys that do not edit prompts create no rows.
package prompts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/tracebook/internal/trace"
)

// RegistryStore is the subset of the trace store the registry needs.
type RegistryStore interface {
	PromptVersionsByHash(ctx context.Context, key, hash string) ([]*trace.PromptVersion, error)
	InsertPromptVersion(ctx context.Context, p *trace.PromptVersion) (*trace.PromptVersion, error)
	GetPromptVersion(ctx context.Context, key, version string) (*trace.PromptVersion, error)
	LatestPromptVersion(ctx context.Context, key string) (*trace.PromptVersion, error)
	ListPromptVersions(ctx context.Context, key string) ([]*trace.PromptVersion, error)
}

type Registry struct {
	store RegistryStore
}

func NewRegistry(store RegistryStore) *Registry {
	return &Registry{store: store}
}

// NormalizeTemplate strips trailing whitespace from each line and from the
// template as a whole. Normalization is part of template identity: editor
// churn that only touches trailing spaces does not mint a new version.
func NormalizeTemplate(template string) string {
	lines := strings.Split(template, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// HashTemplate returns the hex SHA-256 of the normalized template.
func HashTemplate(template string) string {
	sum := sha256.Sum256([]byte(NormalizeTemplate(template)))
	return hex.EncodeToString(sum[:])
}

// Register stores a template under key and returns its version row.
// Identical normalized text returns the existing row unchanged; edited
// text gets the next version number. Hash matches are verified by exact
// string comparison before being trusted.
func (r *Registry) Register(ctx context.Context, key, template, description, metadata string) (*trace.PromptVersion, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("prompt key cannot be empty")
	}

	normalized := NormalizeTemplate(template)
	if normalized == "" {
		return nil, fmt.Errorf("prompt template for %q cannot be empty", key)
	}
	hash := HashTemplate(normalized)

	existing, err := r.store.PromptVersionsByHash(ctx, key, hash)
	if err != nil {
		return nil, fmt.Errorf("look up prompt %q by hash: %w", key, err)
	}
	for _, candidate := range existing {
		if candidate.Template == normalized {
			return candidate, nil
		}
	}

	inserted, err := r.store.InsertPromptVersion(ctx, &trace.PromptVersion{
		ID:           uuid.NewString(),
		PromptKey:    key,
		Template:     normalized,
		TemplateHash: hash,
		Description:  description,
		CreatedAt:    time.Now().UTC(),
		Metadata:     metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("register prompt %q: %w", key, err)
	}
	return inserted, nil
}

// Latest returns the most recently created version for key, or
// trace.ErrNotFound when the key has never been registered.
func (r *Registry) Latest(ctx context.Context, key string) (*trace.PromptVersion, error) {
	return r.store.LatestPromptVersion(ctx, key)
}

// Get returns one exact version, or trace.ErrNotFound. The miss is the
// caller's decision to treat as fatal or not.
func (r *Registry) Get(ctx context.Context, key, version string) (*trace.PromptVersion, error) {
	return r.store.GetPromptVersion(ctx, key, version)
}

// ListVersions returns every version for key ordered by creation time
// ascending. An unregistered key yields an empty slice, not an error.
func (r *Registry) ListVersions(ctx context.Context, key string) ([]*trace.PromptVersion, error) {
	return r.store.ListPromptVersions(ctx, key)
}
