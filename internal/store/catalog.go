// Package store holds the SQLite catalog of product and policy terms.
// When a processed statement mentions a cataloged term, the matching policy
// is attached to the rule tree so downstream consumers see which house
// policies the rule touches.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/parthipan76/ruleengine-automation-sub000/internal/ruletree"
)

// Term is one catalog entry: a product or domain term and the policy text
// that applies when a rule mentions it.
type Term struct {
	Term   string
	Policy string
}

// Catalog is the SQLite-backed term store.
type Catalog struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	logger *zap.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS policy_terms (
	term   TEXT PRIMARY KEY,
	policy TEXT NOT NULL
);
`

// Open initializes the SQLite database at the given path, creating the
// directory and schema as needed.
func Open(path string, logger *zap.Logger) (*Catalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	// sqlite handles one writer; a single connection avoids SQLITE_BUSY
	// churn entirely.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logger.Debug("failed to set sqlite busy_timeout", zap.Error(err))
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logger.Debug("failed to set sqlite journal_mode=WAL", zap.Error(err))
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create catalog schema: %w", err)
	}

	return &Catalog{db: db, path: path, logger: logger}, nil
}

// Close releases the database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// UpsertTerm inserts or replaces one catalog entry.
func (c *Catalog) UpsertTerm(ctx context.Context, term, policy string) error {
	term = strings.TrimSpace(term)
	if term == "" {
		return fmt.Errorf("store: empty term")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO policy_terms (term, policy) VALUES (?, ?)
		 ON CONFLICT(term) DO UPDATE SET policy = excluded.policy`,
		term, policy)
	if err != nil {
		return fmt.Errorf("store: upsert term %q: %w", term, err)
	}
	return nil
}

// DeleteTerm removes one catalog entry. Deleting an unknown term is not an
// error.
func (c *Catalog) DeleteTerm(ctx context.Context, term string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.ExecContext(ctx, `DELETE FROM policy_terms WHERE term = ?`, term); err != nil {
		return fmt.Errorf("store: delete term %q: %w", term, err)
	}
	return nil
}

// Terms returns every catalog entry ordered by term.
func (c *Catalog) Terms(ctx context.Context) ([]Term, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rows, err := c.db.QueryContext(ctx, `SELECT term, policy FROM policy_terms ORDER BY term`)
	if err != nil {
		return nil, fmt.Errorf("store: list terms: %w", err)
	}
	defer rows.Close()

	var out []Term
	for rows.Next() {
		var t Term
		if err := rows.Scan(&t.Term, &t.Policy); err != nil {
			return nil, fmt.Errorf("store: scan term: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MatchTerms returns the catalog entries whose term appears in the input,
// case-insensitively, ordered by term. The catalog is small enough that a
// full scan beats maintaining an FTS index.
func (c *Catalog) MatchTerms(ctx context.Context, input string) ([]Term, error) {
	all, err := c.Terms(ctx)
	if err != nil {
		return nil, err
	}
	lowered := strings.ToLower(input)
	var out []Term
	for _, t := range all {
		if strings.Contains(lowered, strings.ToLower(t.Term)) {
			out = append(out, t)
		}
	}
	return out, nil
}

// AnnotatePolicies attaches one Policy node to the tree root per catalog
// term the input mentions, replacing any previous annotation pass. It
// returns how many policies were attached.
func (c *Catalog) AnnotatePolicies(ctx context.Context, tree *ruletree.RuleTree, input string) (int, error) {
	matches, err := c.MatchTerms(ctx, input)
	if err != nil {
		return 0, err
	}

	tree.Root.RemoveChildrenOfKind(ruletree.KindPolicy)
	for _, m := range matches {
		node := ruletree.NewNode(ruletree.KindPolicy, fmt.Sprintf("%s: %s", m.Term, m.Policy))
		if err := tree.Root.AddChild(node); err != nil {
			return 0, err
		}
	}
	if len(matches) > 0 {
		c.logger.Debug("annotated policies",
			zap.Int("count", len(matches)),
			zap.String("input", input))
	}
	return len(matches), nil
}
