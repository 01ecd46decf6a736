// Package node implements the Node Controller: the local world view of
// peers (own-identity bootstrap, registry upsert, liveness probing, and
// gossip) described in spec section 4.1.
package node

import (
	"fmt"
	"time"
)

// Role is a peer's advertised capability.
type Role string

const (
	RoleExecutor Role = "executor"
	RoleCreator  Role = "creator"
	RoleRegistry Role = "registry"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleExecutor, RoleCreator, RoleRegistry:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown node role %q", s)
	}
}

// Status is a peer's liveness as last observed by this node.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUnknown, StatusActive, StatusInactive:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown node status %q", s)
	}
}

// Node is a peer's identity as this node knows it. NodeUID is immutable
// once minted; IPv4Address and Port may change across reconnects.
type Node struct {
	NodeUID     string
	IPv4Address string
	Port        int
	Role        Role
	Status      Status
	LastPing    time.Time
}

// Addr returns the HTTP base URL this node is reachable at.
func (n Node) Addr() string {
	return fmt.Sprintf("http://%s:%d", n.IPv4Address, n.Port)
}

// Wire is the JSON representation of Node used on the wire and matches the
// field names spec.md §6 uses for /nodes/* payloads.
type Wire struct {
	NodeUID   string `json:"node_uid"`
	IPAddress string `json:"ip"`
	Port      int    `json:"port"`
	Role      string `json:"role"`
	Status    string `json:"status,omitempty"`
	LastPing  int64  `json:"last_ping,omitempty"`
}

func (n Node) ToWire() Wire {
	w := Wire{
		NodeUID:   n.NodeUID,
		IPAddress: n.IPv4Address,
		Port:      n.Port,
		Role:      string(n.Role),
		Status:    string(n.Status),
	}
	if !n.LastPing.IsZero() {
		w.LastPing = n.LastPing.Unix()
	}
	return w
}

func FromWire(w Wire) (Node, error) {
	role, err := ParseRole(w.Role)
	if err != nil {
		return Node{}, err
	}
	status := StatusUnknown
	if w.Status != "" {
		status, err = ParseStatus(w.Status)
		if err != nil {
			return Node{}, err
		}
	}
	n := Node{
		NodeUID:     w.NodeUID,
		IPv4Address: w.IPAddress,
		Port:        w.Port,
		Role:        role,
		Status:      status,
	}
	if w.LastPing != 0 {
		n.LastPing = time.Unix(w.LastPing, 0)
	}
	return n, nil
}
