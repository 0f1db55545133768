package emitter

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/relogdev/relog/common"
)

// SchemaProvider resolves table schemas used to type emitted fields.
type SchemaProvider interface {
	Schema(ctx context.Context, table string) (common.TableSchema, error)
}

// defaultSchemaCacheSize bounds the schema cache; monitored table counts
// are small, the bound just guards pattern configs that expand widely.
const defaultSchemaCacheSize = 256

// CachedSchemaProvider memoizes schema lookups. Schemas are stable for the
// life of a pipeline (schema change handling requires a restart), so
// entries are never invalidated, only evicted by size.
type CachedSchemaProvider struct {
	inner SchemaProvider
	cache *lru.Cache[string, common.TableSchema]
}

// NewCachedSchemaProvider wraps inner with an LRU cache.
func NewCachedSchemaProvider(inner SchemaProvider) (*CachedSchemaProvider, error) {
	cache, err := lru.New[string, common.TableSchema](defaultSchemaCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating schema cache: %w", err)
	}
	return &CachedSchemaProvider{inner: inner, cache: cache}, nil
}

// Schema implements SchemaProvider.
func (p *CachedSchemaProvider) Schema(ctx context.Context, table string) (common.TableSchema, error) {
	if schema, ok := p.cache.Get(table); ok {
		return schema, nil
	}

	schema, err := p.inner.Schema(ctx, table)
	if err != nil {
		return common.TableSchema{}, err
	}

	p.cache.Add(table, schema)
	return schema, nil
}
