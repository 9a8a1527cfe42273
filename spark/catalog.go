/*
Package spark is the declarative operation interpreter.

PURPOSE:
  A spark is a named, JSON-defined sequence of ledger steps - transfers,
  balance checks, metadata reads - that composes the two primitives into a
  business operation ("create product", "purchase", "grant permission")
  without writing code. The catalog maps names to immutable templates;
  the engine binds caller inputs and runs the steps in order.

TEMPLATE FORMAT:
  {
    "schema_version": "1.0",
    "sparks": {
      "create_product": {
        "description": "Births a product into existence",
        "inputs": ["id", "name", "price"],
        "operations": [
          {"type": "transfer", "from": "system:genesis",
           "to": "product:{id}:existence", "amount": 1},
          {"type": "transfer", "from": "system:genesis",
           "to": "product:{id}:price", "amount": "{price}"},
          {"type": "transfer", "from": "system:genesis",
           "to": "product:{id}:name", "amount": "{name}", "blob": true}
        ]
      }
    }
  }

MUTABILITY:
  Templates are immutable once loaded. The catalog itself may gain or lose
  entries at runtime through administrative actions, guarded by a RWMutex
  so invocations never observe a half-written template.

SEE ALSO:
  - engine.go: invocation semantics
*/
package spark

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/warp/ledger-engine/ledger"
)

// Operation types.
const (
	OpTransfer    = "transfer"
	OpBalance     = "balance"
	OpGetMetadata = "get_metadata"
)

// on_fail modes. Anything else (including unset) propagates the error.
const (
	OnFailReturn = "return"
	OnFailThrow  = "throw"
)

// Spark is one named operation template.
type Spark struct {
	Description string            `json:"description"`
	Inputs      []string          `json:"inputs"`
	Operations  []Operation       `json:"operations"`
	Linked      bool              `json:"linked,omitempty"`
	Return      map[string]string `json:"return,omitempty"`
}

// Operation is one step. Which fields apply depends on Type:
// transfer uses From/To/Amount/Blob/Metadata, balance uses
// Account/Condition/Blob, get_metadata uses Account/Field.
type Operation struct {
	Type      string            `json:"type"`
	From      string            `json:"from,omitempty"`
	To        string            `json:"to,omitempty"`
	Account   string            `json:"account,omitempty"`
	Amount    any               `json:"amount,omitempty"`
	Condition string            `json:"condition,omitempty"`
	OnFail    string            `json:"on_fail,omitempty"`
	Field     string            `json:"field,omitempty"`
	Blob      bool              `json:"blob,omitempty"`
	StoreAs   string            `json:"store_as,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Definition is the on-disk catalog file.
type Definition struct {
	SchemaVersion string           `json:"schema_version"`
	Title         string           `json:"title,omitempty"`
	Description   string           `json:"description,omitempty"`
	Sparks        map[string]Spark `json:"sparks"`
}

// Summary is the catalog-listing view of one spark.
type Summary struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Inputs         []string `json:"inputs"`
	OperationCount int      `json:"operation_count"`
}

// Catalog is a concurrent-safe map of name -> immutable template.
type Catalog struct {
	mu     sync.RWMutex
	sparks map[string]Spark
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{sparks: make(map[string]Spark)}
}

// LoadFile reads a catalog definition from disk.
func LoadFile(path string) (*Catalog, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spark catalog: %w", err)
	}

	var def Definition
	if err := json.Unmarshal(body, &def); err != nil {
		return nil, fmt.Errorf("failed to parse spark catalog: %w", err)
	}
	if !strings.HasPrefix(def.SchemaVersion, "1.") {
		return nil, fmt.Errorf("unsupported spark schema version %q", def.SchemaVersion)
	}

	c := NewCatalog()
	for name, spark := range def.Sparks {
		if err := c.Add(name, spark); err != nil {
			return nil, fmt.Errorf("spark %q: %w", name, err)
		}
	}
	return c, nil
}

// Add validates and installs a template, replacing any existing one.
func (c *Catalog) Add(name string, spark Spark) error {
	if name == "" {
		return fmt.Errorf("spark name must not be empty")
	}
	for i, op := range spark.Operations {
		if err := validateOperation(op); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sparks[name] = spark
	return nil
}

// Remove drops a template. Removing an unknown name returns ErrNotFound.
func (c *Catalog) Remove(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.sparks[name]; !ok {
		return ledger.ErrNotFound
	}
	delete(c.sparks, name)
	return nil
}

// Get returns a template by name.
func (c *Catalog) Get(name string) (Spark, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.sparks[name]
	return s, ok
}

// List returns summaries of every template, sorted by name.
func (c *Catalog) List() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Summary, 0, len(c.sparks))
	for name, s := range c.sparks {
		out = append(out, Summary{
			Name:           name,
			Description:    s.Description,
			Inputs:         s.Inputs,
			OperationCount: len(s.Operations),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of installed templates.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sparks)
}

func validateOperation(op Operation) error {
	switch op.Type {
	case OpTransfer:
		if op.From == "" || op.To == "" {
			return fmt.Errorf("transfer requires from and to")
		}
		if op.Amount == nil {
			return fmt.Errorf("transfer requires amount")
		}
	case OpBalance:
		if op.Account == "" {
			return fmt.Errorf("balance requires account")
		}
	case OpGetMetadata:
		if op.Account == "" || op.Field == "" {
			return fmt.Errorf("get_metadata requires account and field")
		}
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
	return nil
}
