package node

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"dgrid/internal/audit"
)

// LivenessInterval is how often the registry re-probes every known peer.
const LivenessInterval = 1 * time.Minute

// Registry is the Node Controller's world view: a set of peers persisted
// to SQLite, mutated by handshake/exchange/enable/disable and refreshed
// by the liveness loop. Only this node's own identity is held in memory;
// every peer read goes to the store, and there is no peer cache.
type Registry struct {
	store *Store
	self  Node

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewRegistry(store *Store, self Node) *Registry {
	return &Registry{
		store:  store,
		self:   self,
		stopCh: make(chan struct{}),
	}
}

// Start begins the liveness loop. Call Stop to halt it on shutdown.
func (r *Registry) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.livenessLoop()
	}()
}

func (r *Registry) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// Self returns this node's own identity.
func (r *Registry) Self() Node { return r.self }

// SetSelfEndpoint updates the address this node advertises to peers, e.g.
// after a UPnP port mapping is (re)installed.
func (r *Registry) SetSelfEndpoint(ip string, port int) {
	r.self.IPv4Address = ip
	r.self.Port = port
}

// Handshake upserts the presenting peer as active and returns this node's
// own identity. Idempotent: repeated handshakes from the same peer leave
// exactly one row, refreshed to the latest endpoint and last_ping.
func (r *Registry) Handshake(peer Node) (Node, error) {
	peer.Status = StatusActive
	peer.LastPing = time.Now()
	if err := r.store.Upsert(peer); err != nil {
		return Node{}, fmt.Errorf("handshake upsert: %w", err)
	}
	audit.Event("handshake.in", peer.NodeUID, true, 0, nil)
	return r.self, nil
}

// Active returns all peers currently marked active.
func (r *Registry) Active() ([]Node, error) {
	return r.store.ByStatus(StatusActive)
}

// ActiveExecutors returns active peers advertising the executor role —
// the candidate pool the Task Controller fans offers out to.
func (r *Registry) ActiveExecutors() ([]Node, error) {
	return r.store.ByRoleAndStatus(RoleExecutor, StatusActive)
}

// Registries returns active peers advertising the registry role.
func (r *Registry) Registries() ([]Node, error) {
	return r.store.ByRoleAndStatus(RoleRegistry, StatusActive)
}

// Exchange upserts every presented node (insert if unknown, update if
// known) and returns this registry's full known set. A node that is
// already known keeps the status this registry holds for it. Commutative
// in the input ordering: the returned set depends only on what was already
// known, not on the order callers present updates in.
func (r *Registry) Exchange(nodes []Node) ([]Node, error) {
	known, err := r.store.All()
	if err != nil {
		return nil, fmt.Errorf("exchange snapshot: %w", err)
	}
	prior := make(map[string]Node, len(known))
	for _, k := range known {
		prior[k.NodeUID] = k
	}
	for _, n := range nodes {
		if n.NodeUID == r.self.NodeUID {
			continue
		}
		if k, ok := prior[n.NodeUID]; ok {
			n.Status = k.Status
		}
		if err := r.store.Upsert(n); err != nil {
			return nil, fmt.Errorf("exchange upsert %s: %w", n.NodeUID, err)
		}
	}
	return known, nil
}

// Join mints a new node_uid for an admin-plane-registered peer. Distinct
// from Handshake: Join is how an operator manually registers a peer
// rather than the peer presenting itself over the protocol.
func (r *Registry) Join(ip string, port int, role Role) (Node, error) {
	n := Node{
		NodeUID:     uuid.NewString(),
		IPv4Address: ip,
		Port:        port,
		Role:        role,
		Status:      StatusActive,
		LastPing:    time.Now(),
	}
	if err := r.store.Upsert(n); err != nil {
		return Node{}, fmt.Errorf("join: %w", err)
	}
	return n, nil
}

// Leave permanently removes a peer.
func (r *Registry) Leave(nodeUID string) error {
	return r.store.Delete(nodeUID)
}

// Enable marks a known peer active and refreshes its endpoint. Called by
// peers that have just come up behind NAT and want gossip to carry their
// freshened address.
func (r *Registry) Enable(nodeUID, ip string, port int) error {
	existing, ok, err := r.store.Get(nodeUID)
	if err != nil {
		return fmt.Errorf("enable lookup %s: %w", nodeUID, err)
	}
	if !ok {
		return fmt.Errorf("enable: unknown node %s", nodeUID)
	}
	existing.IPv4Address = ip
	existing.Port = port
	existing.Status = StatusActive
	existing.LastPing = time.Now()
	return r.store.Upsert(existing)
}

// Disable marks a known peer inactive.
func (r *Registry) Disable(nodeUID string) error {
	existing, ok, err := r.store.Get(nodeUID)
	if err != nil {
		return fmt.Errorf("disable lookup %s: %w", nodeUID, err)
	}
	if !ok {
		return fmt.Errorf("disable: unknown node %s", nodeUID)
	}
	existing.Status = StatusInactive
	return r.store.Upsert(existing)
}

// livenessLoop is the sole source of truth for Status: it pings every
// known peer once a minute and transitions status on change only. Gossip
// (Exchange) never overrides a status this node observed itself — see the
// open-question resolution in DESIGN.md.
func (r *Registry) livenessLoop() {
	ticker := time.NewTicker(LivenessInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.probeAll()
		}
	}
}

func (r *Registry) probeAll() {
	nodes, err := r.store.All()
	if err != nil {
		log.Printf("node: liveness snapshot failed: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, n := range nodes {
		if n.NodeUID == r.self.NodeUID {
			continue
		}
		wg.Add(1)
		go func(n Node) {
			defer wg.Done()
			r.probeOne(n)
		}(n)
	}
	wg.Wait()
}

func (r *Registry) probeOne(n Node) {
	ctx, cancel := context.WithTimeout(context.Background(), LivenessTimeout)
	defer cancel()

	reachable := NewClient(n.Addr()).Ping(ctx)
	newStatus := StatusInactive
	if reachable {
		newStatus = StatusActive
	}

	// Use the in-memory snapshot's status for the "did anything change"
	// check, per the decided reading of the source's update_nodes_status:
	// a no-op ping result never rewrites last_ping or endpoint.
	if n.Status == newStatus {
		return
	}
	if err := r.store.SetStatus(n.NodeUID, newStatus); err != nil {
		log.Printf("node: failed to persist status for %s: %v", n.NodeUID, err)
		return
	}
	log.Printf("node: %s transitioned %s -> %s", n.NodeUID, n.Status, newStatus)
	audit.Event("liveness.transition", n.NodeUID, reachable, 0, nil)
}
