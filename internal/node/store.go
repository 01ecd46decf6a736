package node

import (
	"database/sql"
	"fmt"
	"time"
)

// Store persists the node registry to SQLite, following the same
// CREATE TABLE IF NOT EXISTS + upsert-on-conflict pattern the teacher's
// ha.Manager uses for its ha_nodes table.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) EnsureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS nodes (
			node_uid     TEXT PRIMARY KEY,
			ipv4_address TEXT NOT NULL,
			port         INTEGER NOT NULL,
			role         TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'unknown',
			last_ping    INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("node schema: %w", err)
	}
	return nil
}

// Upsert inserts or updates a node keyed by NodeUID. node_uid itself is
// never part of the update clause — it is immutable once minted.
func (s *Store) Upsert(n Node) error {
	_, err := s.db.Exec(`
		INSERT INTO nodes (node_uid, ipv4_address, port, role, status, last_ping)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_uid) DO UPDATE SET
			ipv4_address=excluded.ipv4_address,
			port=excluded.port,
			role=excluded.role,
			status=excluded.status,
			last_ping=excluded.last_ping
	`, n.NodeUID, n.IPv4Address, n.Port, string(n.Role), string(n.Status), n.LastPing.Unix())
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", n.NodeUID, err)
	}
	return nil
}

func (s *Store) Get(nodeUID string) (Node, bool, error) {
	row := s.db.QueryRow(`
		SELECT node_uid, ipv4_address, port, role, status, last_ping
		FROM nodes WHERE node_uid = ?
	`, nodeUID)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return Node{}, false, nil
	}
	if err != nil {
		return Node{}, false, fmt.Errorf("get node %s: %w", nodeUID, err)
	}
	return n, true, nil
}

func (s *Store) All() ([]Node, error) {
	rows, err := s.db.Query(`
		SELECT node_uid, ipv4_address, port, role, status, last_ping FROM nodes
	`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

func (s *Store) ByStatus(status Status) ([]Node, error) {
	rows, err := s.db.Query(`
		SELECT node_uid, ipv4_address, port, role, status, last_ping
		FROM nodes WHERE status = ?
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list nodes by status: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

func (s *Store) ByRoleAndStatus(role Role, status Status) ([]Node, error) {
	rows, err := s.db.Query(`
		SELECT node_uid, ipv4_address, port, role, status, last_ping
		FROM nodes WHERE role = ? AND status = ?
	`, string(role), string(status))
	if err != nil {
		return nil, fmt.Errorf("list nodes by role/status: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

func (s *Store) SetStatus(nodeUID string, status Status) error {
	_, err := s.db.Exec(`UPDATE nodes SET status = ? WHERE node_uid = ?`, string(status), nodeUID)
	if err != nil {
		return fmt.Errorf("set status for %s: %w", nodeUID, err)
	}
	return nil
}

func (s *Store) Delete(nodeUID string) error {
	_, err := s.db.Exec(`DELETE FROM nodes WHERE node_uid = ?`, nodeUID)
	if err != nil {
		return fmt.Errorf("delete node %s: %w", nodeUID, err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanNode(row scannable) (Node, error) {
	var n Node
	var role, status string
	var lastPing int64
	if err := row.Scan(&n.NodeUID, &n.IPv4Address, &n.Port, &role, &status, &lastPing); err != nil {
		return Node{}, err
	}
	n.Role = Role(role)
	n.Status = Status(status)
	if lastPing != 0 {
		n.LastPing = time.Unix(lastPing, 0)
	}
	return n, nil
}

func scanNodes(rows *sql.Rows) ([]Node, error) {
	var nodes []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}
