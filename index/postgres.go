package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresConfig configures the pgvector-backed catalog index.
type PostgresConfig struct {
	Pool   *pgxpool.Pool
	Schema string

	// Model partitions the catalog: vectors from different embedding models
	// are never compared against each other.
	Model string

	// Dimensions of the stored halfvec column.
	Dimensions int
}

// Postgres stores item embeddings in `<schema>.catalog_embeddings` as halfvec
// and answers top-k queries with the pgvector cosine-distance operator.
type Postgres struct {
	pool   *pgxpool.Pool
	schema string
	model  string
	dims   int
}

func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("Pool is required")
	}
	if strings.TrimSpace(cfg.Schema) == "" {
		return nil, fmt.Errorf("Schema is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("Model is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("Dimensions is required")
	}
	return &Postgres{
		pool:   cfg.Pool,
		schema: strings.TrimSpace(cfg.Schema),
		model:  strings.TrimSpace(cfg.Model),
		dims:   cfg.Dimensions,
	}, nil
}

func (p *Postgres) Insert(ctx context.Context, id string, vec []float32) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("id is required")
	}
	if len(vec) != p.dims {
		return fmt.Errorf("vector has %d dims, index stores %d", len(vec), p.dims)
	}
	quoted, err := quoteIdent(p.schema)
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	sql := fmt.Sprintf(`
		INSERT INTO %s.catalog_embeddings (item_id, model, embedding)
		VALUES (@item_id, @model, @embedding::halfvec(%d))
		ON CONFLICT (item_id, model) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			updated_at = now()
	`, quoted, p.dims)

	_, err = p.pool.Exec(ctx, sql, pgx.NamedArgs{
		"item_id":   id,
		"model":     p.model,
		"embedding": pgvector.NewHalfVector(vec),
	})
	return err
}

func (p *Postgres) Search(ctx context.Context, vec []float32, k int) ([]Entry, error) {
	if len(vec) == 0 || k <= 0 {
		return nil, nil
	}
	if len(vec) != p.dims {
		return nil, fmt.Errorf("vector has %d dims, index stores %d", len(vec), p.dims)
	}
	quoted, err := quoteIdent(p.schema)
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	sql := fmt.Sprintf(`
		SELECT
			item_id,
			(1 - (embedding <=> @q::halfvec(%d)))::float4 AS score
		FROM %s.catalog_embeddings
		WHERE model = @model
		ORDER BY embedding <=> @q::halfvec(%d) ASC, item_id ASC
		LIMIT @limit
	`, p.dims, quoted, p.dims)

	rows, err := p.pool.Query(ctx, sql, pgx.NamedArgs{
		"q":     pgvector.NewHalfVector(vec),
		"model": p.model,
		"limit": k,
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Score); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// quoteIdent quotes a Postgres identifier, rejecting embedded quotes rather
// than escaping them.
func quoteIdent(ident string) (string, error) {
	if ident == "" {
		return "", fmt.Errorf("empty identifier")
	}
	if strings.ContainsAny(ident, `"`) {
		return "", fmt.Errorf("identifier %q contains a quote", ident)
	}
	return `"` + ident + `"`, nil
}
