package brand

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Brand is a registry entry: a known brand and its official domain.
// Domain may be empty for stub entries saved before discovery succeeded.
type Brand struct {
	Name    string   `json:"name"`
	Domain  string   `json:"domain"`
	Aliases []string `json:"aliases,omitempty"`
}

// Registry is the store of known brands and their official domains.
type Registry interface {
	// Lookup returns the brand by exact name, or nil when unknown.
	Lookup(ctx context.Context, name string) (*Brand, error)
	// Upsert inserts the brand if absent. Inserting a name that already
	// exists is a no-op, so concurrent saves of the same new brand are safe.
	Upsert(ctx context.Context, b Brand) error
	// List returns all registered brands.
	List(ctx context.Context) ([]Brand, error)
}

// PGRegistry is the Postgres-backed registry.
type PGRegistry struct {
	pool *pgxpool.Pool
}

// NewPGRegistry connects a registry to Postgres and verifies the connection.
func NewPGRegistry(ctx context.Context, databaseURL string) (*PGRegistry, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PGRegistry{pool: pool}, nil
}

// NewPGRegistryFromPool wraps an existing pool (shared with the detection sink).
func NewPGRegistryFromPool(pool *pgxpool.Pool) *PGRegistry {
	return &PGRegistry{pool: pool}
}

func (r *PGRegistry) Lookup(ctx context.Context, name string) (*Brand, error) {
	var b Brand
	var aliasJSON []byte
	err := r.pool.QueryRow(ctx,
		`SELECT brand_name, official_domain, brand_alias
		 FROM brand_registry WHERE brand_name = $1`,
		name,
	).Scan(&b.Name, &b.Domain, &aliasJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup brand %q: %w", name, err)
	}
	if len(aliasJSON) > 0 {
		_ = json.Unmarshal(aliasJSON, &b.Aliases)
	}
	return &b, nil
}

func (r *PGRegistry) Upsert(ctx context.Context, b Brand) error {
	aliasJSON, err := json.Marshal(b.Aliases)
	if err != nil {
		return fmt.Errorf("marshal aliases: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO brand_registry (brand_name, official_domain, brand_alias)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (brand_name) DO NOTHING`,
		b.Name, b.Domain, aliasJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert brand %q: %w", b.Name, err)
	}
	return nil
}

func (r *PGRegistry) List(ctx context.Context) ([]Brand, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT brand_name, official_domain, brand_alias FROM brand_registry`)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	defer rows.Close()

	var brands []Brand
	for rows.Next() {
		var b Brand
		var aliasJSON []byte
		if err := rows.Scan(&b.Name, &b.Domain, &aliasJSON); err != nil {
			return nil, fmt.Errorf("scan brand: %w", err)
		}
		if len(aliasJSON) > 0 {
			_ = json.Unmarshal(aliasJSON, &b.Aliases)
		}
		brands = append(brands, b)
	}
	return brands, rows.Err()
}

// Close releases the underlying pool.
func (r *PGRegistry) Close() {
	r.pool.Close()
}
