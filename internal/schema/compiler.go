// Package schema compiles and caches JSON schemas. It backs both the
// payload-schema rule and bot config validation.
package schema

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

type Compiler struct {
	cache *expirable.LRU[string, *js.Schema]
}

// NewCompilerWithCache creates a compiler keeping up to maxSize compiled
// schemas for an hour.
func NewCompilerWithCache(maxSize int) *Compiler {
	return &Compiler{
		cache: expirable.NewLRU[string, *js.Schema](maxSize, nil, time.Hour),
	}
}

func (c *Compiler) key(schema map[string]interface{}) string {
	b, _ := json.Marshal(schema)
	return string(b)
}

// Prepare compiles and caches a schema. Registration code calls it to
// reject malformed schemas before dispatch starts.
func (c *Compiler) Prepare(_ context.Context, schema map[string]interface{}) error {
	key := c.key(schema)
	if _, ok := c.cache.Get(key); ok {
		return nil
	}

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	// Hash-based resource URL keeps the compiler from parsing JSON
	// content as a URL. A throwaway js.Compiler per schema keeps its
	// resource table from outliving the cached compiled schema.
	hash := sha256.Sum256(schemaBytes)
	resourceURL := fmt.Sprintf("mem://schema/%x.json", hash[:8])

	compiler := js.NewCompiler()
	compiler.ExtractAnnotations = true
	if err := compiler.AddResource(resourceURL, bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("failed to add resource: %w", err)
	}

	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	c.cache.Add(key, compiled)
	return nil
}

// Validate checks value against schema, compiling it on first use.
func (c *Compiler) Validate(ctx context.Context, schema map[string]interface{}, value map[string]interface{}) error {
	key := c.key(schema)
	compiled, ok := c.cache.Get(key)
	if !ok {
		if err := c.Prepare(ctx, schema); err != nil {
			return err
		}
		compiled, _ = c.cache.Get(key)
		if compiled == nil {
			return fmt.Errorf("schema not found in cache after preparation")
		}
	}

	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	var valueRaw interface{}
	if err := json.Unmarshal(valueBytes, &valueRaw); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}

	if err := compiled.Validate(valueRaw); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
