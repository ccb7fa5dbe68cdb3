// Package catalog implements the durable directory of tables and
// indexes, persisted as JSON in catalog.dat with atomic rewrite (temp
// file + fsync + rename). Every table and its indexes live in one flat
// file rather than per-table records, matching minidb's single-catalog
// scope.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"minidb/types"
)

// IndexDef describes one index over a table.
type IndexDef struct {
	Name   string
	Column string
	Unique bool
}

// TableDef describes one table: its schema and the indexes built over it.
type TableDef struct {
	Name    string
	Schema  types.Schema
	Indexes []IndexDef
}

type onDisk struct {
	Tables []TableDef
}

// Catalog is the in-memory, mutex-guarded directory of tables and
// indexes, backed by a single JSON file. DDL operations take the
// exclusive write lock; DML operations that only need to read a table's
// definition take the shared read lock.
type Catalog struct {
	mu     sync.RWMutex
	path   string
	tables map[string]*TableDef
}

// Open loads an existing catalog.dat, or initializes an empty catalog if
// the file does not yet exist.
func Open(path string) (*Catalog, error) {
	c := &Catalog{path: path, tables: map[string]*TableDef{}}
	buf, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	var d onDisk
	if err := json.Unmarshal(buf, &d); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	for i := range d.Tables {
		t := d.Tables[i]
		c.tables[t.Name] = &t
	}
	return c, nil
}

// save rewrites catalog.dat atomically: write to a temp file in the same
// directory, fsync it, then rename over the original.
func (c *Catalog) save() error {
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	d := onDisk{Tables: make([]TableDef, 0, len(names))}
	for _, name := range names {
		d.Tables = append(d.Tables, *c.tables[name])
	}

	buf, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: encode: %w", err)
	}

	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, "catalog.*.tmp")
	if err != nil {
		return fmt.Errorf("catalog: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("catalog: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("catalog: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("catalog: close temp: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("catalog: rename: %w", err)
	}
	return nil
}

// CreateTable registers a new table definition. Returns an error if a
// table with that name already exists.
func (c *Catalog) CreateTable(def TableDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[def.Name]; ok {
		return fmt.Errorf("catalog: table %q already exists", def.Name)
	}
	c.tables[def.Name] = &def
	return c.save()
}

// DropTable removes a table definition (and, implicitly, its indexes).
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[name]; !ok {
		return fmt.Errorf("catalog: table %q does not exist", name)
	}
	delete(c.tables, name)
	return c.save()
}

// GetTable returns a copy of a table's definition.
func (c *Catalog) GetTable(name string) (TableDef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	if !ok {
		return TableDef{}, false
	}
	return *t, true
}

// ListTables returns every table name, sorted.
func (c *Catalog) ListTables() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.tables))
	for name := range c.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateIndex adds an index definition to an existing table.
func (c *Catalog) CreateIndex(table string, idx IndexDef) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[table]
	if !ok {
		return fmt.Errorf("catalog: table %q does not exist", table)
	}
	for _, existing := range t.Indexes {
		if existing.Name == idx.Name {
			return fmt.Errorf("catalog: index %q already exists on %q", idx.Name, table)
		}
	}
	t.Indexes = append(t.Indexes, idx)
	return c.save()
}

// DropIndex removes an index definition from a table.
func (c *Catalog) DropIndex(table, index string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[table]
	if !ok {
		return fmt.Errorf("catalog: table %q does not exist", table)
	}
	for i, existing := range t.Indexes {
		if existing.Name == index {
			t.Indexes = append(t.Indexes[:i], t.Indexes[i+1:]...)
			return c.save()
		}
	}
	return fmt.Errorf("catalog: index %q does not exist on %q", index, table)
}

// GetIndex returns the definition of one index on table, by name.
func (c *Catalog) GetIndex(table, index string) (IndexDef, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[table]
	if !ok {
		return IndexDef{}, false
	}
	for _, idx := range t.Indexes {
		if idx.Name == index {
			return idx, true
		}
	}
	return IndexDef{}, false
}

// ListIndexes returns every index defined on table.
func (c *Catalog) ListIndexes(table string) []IndexDef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[table]
	if !ok {
		return nil
	}
	out := make([]IndexDef, len(t.Indexes))
	copy(out, t.Indexes)
	return out
}
