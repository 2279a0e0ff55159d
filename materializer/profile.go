package materializer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
	"roomy.chat/model"
	"roomy.chat/sid"
	"roomy.chat/sqlstore"
)

// Profile is the subset of a user's profile the materializer needs to
// populate comp_user / comp_info.
type Profile struct {
	Name   string
	Avatar string
}

// Backend fetches a user's profile from wherever identity lives. The
// cryptographic identity system backing it is treated as opaque.
type Backend interface {
	GetProfile(ctx context.Context, did model.UserDid) (Profile, error)
}

// ProfileEnricher resolves author/referenced DIDs to entity ids,
// fetching and materializing missing profiles on demand. One instance
// is shared by every batch a stream's materializer processes so the
// in-memory cache survives across batches; singleflight collapses
// concurrent fetches for the same DID within one batch.
type ProfileEnricher struct {
	db      *sqlstore.DB
	backend Backend

	mu    sync.RWMutex
	cache map[model.UserDid]sid.ID

	group singleflight.Group
}

func NewProfileEnricher(db *sqlstore.DB, backend Backend) *ProfileEnricher {
	return &ProfileEnricher{
		db:      db,
		backend: backend,
		cache:   make(map[model.UserDid]sid.ID),
	}
}

// Resolve looks up the entity id already known for did, if any,
// without fetching. Used by materialize once profiles for the current
// batch have been ensured.
func (p *ProfileEnricher) Resolve(did model.UserDid) (sid.ID, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.cache[did]
	return id, ok
}

// Ensure resolves every DID in dids to an entity id, consulting the
// in-memory cache, then the comp_user table, then the
// Backend collaborator for any still missing. It returns the SQL
// statements needed to materialize newly-fetched profiles; the caller
// is responsible for executing them as part of the same batch before
// any bundle that references one of these DIDs.
func (p *ProfileEnricher) Ensure(ctx context.Context, dids []model.UserDid) ([]sqlstore.Statement, error) {
	var stmts []sqlstore.Statement
	var missing []model.UserDid

	for _, did := range dids {
		if _, ok := p.Resolve(did); ok {
			continue
		}
		id, err := p.queryExisting(ctx, did)
		if err != nil {
			return nil, err
		}
		if !id.IsZero() {
			p.mu.Lock()
			p.cache[did] = id
			p.mu.Unlock()
			continue
		}
		missing = append(missing, did)
	}

	for _, did := range missing {
		entityID, newStmts, err := p.fetchAndMint(ctx, did)
		if err != nil {
			return nil, fmt.Errorf("materializer: fetch profile %s: %w", did, err)
		}
		p.mu.Lock()
		p.cache[did] = entityID
		p.mu.Unlock()
		stmts = append(stmts, newStmts...)
	}

	return stmts, nil
}

func (p *ProfileEnricher) queryExisting(ctx context.Context, did model.UserDid) (sid.ID, error) {
	rows, err := p.db.Query(ctx, sqlstore.Statement{
		Query: `SELECT entity FROM comp_user WHERE did = ?`,
		Args:  []any{string(did)},
	})
	if err != nil {
		return sid.Nil, err
	}
	if len(rows) == 0 {
		return sid.Nil, nil
	}
	s, _ := rows[0]["entity"].(string)
	return sid.Parse(s)
}

// fetchAndMint fetches did's profile exactly once even if several
// goroutines request it concurrently within the same batch.
func (p *ProfileEnricher) fetchAndMint(ctx context.Context, did model.UserDid) (sid.ID, []sqlstore.Statement, error) {
	type result struct {
		id    sid.ID
		stmts []sqlstore.Statement
	}

	v, err, _ := p.group.Do(string(did), func() (any, error) {
		profile, err := p.backend.GetProfile(ctx, did)
		if err != nil {
			return nil, err
		}
		id := sid.New()
		stmts := []sqlstore.Statement{
			{
				Query: `INSERT INTO entities (id, stream_id, created_at, updated_at) VALUES (?, ?, ?, ?)
					ON CONFLICT(id) DO NOTHING`,
				Args:  []any{id, string(did), nowMs(), nowMs()},
				Table: "entities",
			},
			{
				Query: `INSERT INTO comp_user (entity, did) VALUES (?, ?)
					ON CONFLICT(entity) DO NOTHING`,
				Args:  []any{id, string(did)},
				Table: "comp_user",
			},
			{
				Query: `INSERT INTO comp_info (entity, name, image) VALUES (?, ?, ?)
					ON CONFLICT(entity) DO UPDATE SET name = excluded.name, image = excluded.image`,
				Args:  []any{id, profile.Name, profile.Avatar},
				Table: "comp_info",
			},
		}
		return result{id: id, stmts: stmts}, nil
	})
	if err != nil {
		return sid.Nil, nil, err
	}
	r := v.(result)
	return r.id, r.stmts, nil
}
