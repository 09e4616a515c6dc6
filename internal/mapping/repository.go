package mapping

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository loads field mapping rule sets from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a new mapping repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetRuleSet loads the ordered rule set for an intake source. An empty rule
// set is valid: Apply then produces an empty payload, so a source with no
// configured rules forwards nothing downstream.
func (r *Repository) GetRuleSet(ctx context.Context, source string) (RuleSet, error) {
	query := `
		SELECT source_field, target_field, transform, required
		FROM field_mapping_rules
		WHERE source = $1
		ORDER BY position ASC`

	rows, err := r.pool.Query(ctx, query, source)
	if err != nil {
		return RuleSet{}, fmt.Errorf("load mapping rules: %w", err)
	}
	defer rows.Close()

	set := RuleSet{Source: source}
	for rows.Next() {
		var rule Rule
		var transform string
		if err := rows.Scan(&rule.SourceField, &rule.TargetField, &transform, &rule.Required); err != nil {
			return RuleSet{}, fmt.Errorf("scan mapping rule: %w", err)
		}
		rule.Transform = Transform(transform)
		set.Rules = append(set.Rules, rule)
	}
	if err := rows.Err(); err != nil {
		return RuleSet{}, fmt.Errorf("iterate mapping rules: %w", err)
	}

	return set, nil
}

// CachedLoader wraps rule set loading with a TTL cache. Mapping rules are
// read-mostly configuration, so a short staleness window is acceptable.
type CachedLoader struct {
	repo *Repository
	ttl  time.Duration

	mu    sync.RWMutex
	cache map[string]cachedSet
}

type cachedSet struct {
	set       RuleSet
	fetchedAt time.Time
}

// NewCachedLoader creates a rule loader with the given cache TTL.
func NewCachedLoader(repo *Repository, ttl time.Duration) *CachedLoader {
	return &CachedLoader{
		repo:  repo,
		ttl:   ttl,
		cache: make(map[string]cachedSet),
	}
}

// GetRuleSet returns the cached rule set for source, refreshing it from the
// repository when the cache entry is missing or stale.
func (l *CachedLoader) GetRuleSet(ctx context.Context, source string) (RuleSet, error) {
	l.mu.RLock()
	entry, ok := l.cache[source]
	l.mu.RUnlock()

	if ok && time.Since(entry.fetchedAt) < l.ttl {
		return entry.set, nil
	}

	set, err := l.repo.GetRuleSet(ctx, source)
	if err != nil {
		// Serve stale config over failing the pipeline on a blip.
		if ok {
			return entry.set, nil
		}
		return RuleSet{}, err
	}

	l.mu.Lock()
	l.cache[source] = cachedSet{set: set, fetchedAt: time.Now()}
	l.mu.Unlock()

	return set, nil
}
