package cache

import (
	"context"
	"fmt"

	"github.com/tbourn/go-jobtrack-backend/internal/domain"
)

// IdentityResolver resolves primary-store user ids to identity snapshots in a
// single batched call. Unknown ids are absent from the result.
type IdentityResolver interface {
	ResolveIdentities(ctx context.Context, ids []string) (map[string]domain.Identity, error)
}

// JoinIdentities attaches identities from the primary store to rows fetched
// from another store. It gathers the foreign keys of rows, resolves them with
// one call, and merges by id; merge receives ok=false for unresolved or empty
// keys. Row order is preserved.
func JoinIdentities[S, R any](ctx context.Context, resolver IdentityResolver, rows []S, key func(S) string, merge func(row S, id domain.Identity, ok bool) R) ([]R, error) {
	seen := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		id := key(r)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	var found map[string]domain.Identity
	if len(ids) > 0 && resolver != nil {
		var err error
		found, err = resolver.ResolveIdentities(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("resolve identities: %w", err)
		}
	}

	out := make([]R, len(rows))
	for i, r := range rows {
		id, ok := found[key(r)]
		out[i] = merge(r, id, ok)
	}
	return out, nil
}
