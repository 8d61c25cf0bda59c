package db

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

// Execer is satisfied by both *sql.DB and *sql.Tx, letting the helper-row
// creators below run either standalone or as part of a larger
// transaction (the injector's phases all run inside one *sql.Tx).
type Execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// NameCache is a process-wide read-through cache mapping a dictionary
// table's name column to its id, with insert-if-missing semantics. It
// generalizes the teacher's GetOrCreateDomain/GetOrCreateUser pattern
// (see directory.go) to the four dictionary tables named in spec.md §4.8:
// flag_names, annotation_names, field_names, addresses.
//
// Readers that observe id 0 must retry; a fill never stores 0.
type NameCache struct {
	table string // table name
	col   string // name column

	mu    sync.RWMutex
	byName map[string]int64
}

func NewNameCache(table, col string) *NameCache {
	return &NameCache{table: table, col: col, byName: make(map[string]int64)}
}

// Ensure returns ids for each name in names, creating missing rows.
// Pattern (spec.md §4.8): SELECT id FROM T WHERE name = ANY(names) →
// partition known/unknown → INSERT unknown → re-SELECT; a unique-violation
// race from a concurrent inserter is resolved by re-SELECT.
func (c *NameCache) Ensure(conn Execer, names []string) (map[string]int64, error) {
	result := make(map[string]int64, len(names))
	var missing []string

	c.mu.RLock()
	for _, n := range names {
		if id, ok := c.byName[n]; ok && id != 0 {
			result[n] = id
		} else {
			missing = append(missing, n)
		}
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return result, nil
	}

	found, err := c.selectExisting(conn, missing)
	if err != nil {
		return nil, err
	}
	var stillMissing []string
	for _, n := range missing {
		if id, ok := found[n]; ok {
			result[n] = id
		} else {
			stillMissing = append(stillMissing, n)
		}
	}

	for _, n := range stillMissing {
		id, err := c.insertOne(conn, n)
		if err != nil {
			return nil, err
		}
		result[n] = id
	}

	c.mu.Lock()
	for n, id := range result {
		c.byName[n] = id
	}
	c.mu.Unlock()

	return result, nil
}

// EnsureOne is a convenience wrapper around Ensure for a single name.
func (c *NameCache) EnsureOne(conn Execer, name string) (int64, error) {
	m, err := c.Ensure(conn, []string{name})
	if err != nil {
		return 0, err
	}
	return m[name], nil
}

// Reset drops every cached id. The cache is process-wide and assumes one
// long-lived database (DESIGN.md OQ-1); tests that open a fresh database
// per test case must call this first so ids minted by an earlier
// in-memory database aren't handed back for one that never inserted them.
func (c *NameCache) Reset() {
	c.mu.Lock()
	c.byName = make(map[string]int64)
	c.mu.Unlock()
}

func (c *NameCache) selectExisting(conn Execer, names []string) (map[string]int64, error) {
	placeholders := make([]string, len(names))
	args := make([]interface{}, len(names))
	for i, n := range names {
		placeholders[i] = "?"
		args[i] = n
	}
	query := fmt.Sprintf("SELECT id, %s FROM %s WHERE %s IN (%s)", c.col, c.table, c.col, strings.Join(placeholders, ","))
	rows, err := conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		found[name] = id
	}
	return found, rows.Err()
}

// insertOne inserts a single missing name, retrying the SELECT once if a
// concurrent injector raced us to the unique constraint.
func (c *NameCache) insertOne(conn Execer, name string) (int64, error) {
	res, err := conn.Exec(fmt.Sprintf("INSERT INTO %s(%s) VALUES (?)", c.table, c.col), name)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			found, selErr := c.selectExisting(conn, []string{name})
			if selErr != nil {
				return 0, selErr
			}
			if id, ok := found[name]; ok {
				return id, nil
			}
			return 0, fmt.Errorf("%s: row raced out of existence for %q", c.table, name)
		}
		return 0, fmt.Errorf("insert %s(%s=%q): %w", c.table, c.col, name, err)
	}
	return res.LastInsertId()
}

// Process-wide caches for the four dictionary tables.
var (
	FlagNames       = NewNameCache("flag_names", "name")
	AnnotationNames = NewNameCache("annotation_names", "name")
	FieldNames      = NewNameCache("field_names", "name")
)

// AddressCache maps a stringified (name, localpart, domain) tuple to its
// addresses.id, batched through a single round trip per spec.md §4.7 Phase 5.
type AddressCache struct {
	mu sync.RWMutex
	byKey map[string]int64
}

func NewAddressCache() *AddressCache {
	return &AddressCache{byKey: make(map[string]int64)}
}

type AddressKey struct {
	Name, Localpart, Domain string
}

func (k AddressKey) cacheKey() string {
	return k.Name + "\x00" + k.Localpart + "\x00" + k.Domain
}

// Ensure resolves every key to an addresses.id, inserting any that are new.
func (c *AddressCache) Ensure(conn Execer, keys []AddressKey) (map[AddressKey]int64, error) {
	result := make(map[AddressKey]int64, len(keys))
	var missing []AddressKey

	c.mu.RLock()
	for _, k := range keys {
		if id, ok := c.byKey[k.cacheKey()]; ok {
			result[k] = id
		} else {
			missing = append(missing, k)
		}
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return result, nil
	}

	for _, k := range uniqueKeys(missing) {
		var id int64
		err := conn.QueryRow(`SELECT id FROM addresses WHERE name = ? AND localpart = ? AND domain = ?`,
			k.Name, k.Localpart, k.Domain).Scan(&id)
		if err == sql.ErrNoRows {
			res, insErr := conn.Exec(`INSERT INTO addresses(name, localpart, domain) VALUES (?, ?, ?)`,
				k.Name, k.Localpart, k.Domain)
			if insErr != nil {
				if strings.Contains(insErr.Error(), "UNIQUE constraint failed") {
					if scanErr := conn.QueryRow(`SELECT id FROM addresses WHERE name = ? AND localpart = ? AND domain = ?`,
						k.Name, k.Localpart, k.Domain).Scan(&id); scanErr != nil {
						return nil, scanErr
					}
				} else {
					return nil, fmt.Errorf("insert address: %w", insErr)
				}
			} else {
				id, err = res.LastInsertId()
				if err != nil {
					return nil, err
				}
			}
		} else if err != nil {
			return nil, err
		}
		result[k] = id
	}

	c.mu.Lock()
	for k, id := range result {
		c.byKey[k.cacheKey()] = id
	}
	c.mu.Unlock()

	return result, nil
}

// Reset drops every cached address id; see NameCache.Reset.
func (c *AddressCache) Reset() {
	c.mu.Lock()
	c.byKey = make(map[string]int64)
	c.mu.Unlock()
}

func uniqueKeys(keys []AddressKey) []AddressKey {
	seen := make(map[string]bool, len(keys))
	out := make([]AddressKey, 0, len(keys))
	for _, k := range keys {
		ck := k.cacheKey()
		if !seen[ck] {
			seen[ck] = true
			out = append(out, k)
		}
	}
	return out
}
