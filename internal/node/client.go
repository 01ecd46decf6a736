package node

import (
	"context"
	"time"

	"dgrid/internal/httpclient"
)

// LivenessTimeout bounds ping/handshake/enable calls per spec section 5.
const LivenessTimeout = 3 * time.Second

// Client talks to a remote Node Controller.
type Client struct {
	http *httpclient.Client
}

func NewClient(addr string) *Client {
	return &Client{http: httpclient.New(addr, LivenessTimeout)}
}

// Ping probes liveness. A timeout or any transport error is reported as
// unreachable rather than propagated — liveness is best-effort per the
// error taxonomy in spec section 7.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, LivenessTimeout)
	defer cancel()
	var out struct {
		Status string `json:"status"`
	}
	return c.http.GetJSON(ctx, "/ping", &out) == nil
}

type handshakeRequest struct {
	NodeUID string `json:"node_uid"`
	IP      string `json:"ip"`
	Port    int    `json:"port"`
	Role    string `json:"role"`
}

// Handshake presents self to the callee and returns the callee's own
// identity, or ok=false if the peer was unreachable.
func (c *Client) Handshake(ctx context.Context, self Node) (Node, bool) {
	ctx, cancel := context.WithTimeout(ctx, LivenessTimeout)
	defer cancel()

	var out Wire
	err := c.http.PostJSON(ctx, "/nodes/handshake", handshakeRequest{
		NodeUID: self.NodeUID,
		IP:      self.IPv4Address,
		Port:    self.Port,
		Role:    string(self.Role),
	}, &out)
	if err != nil {
		return Node{}, false
	}
	peer, err := FromWire(out)
	if err != nil {
		return Node{}, false
	}
	return peer, true
}

// Enable refreshes a peer's endpoint on a registry after this node's own
// address changed (e.g. a new UPnP mapping after reconnect).
func (c *Client) Enable(ctx context.Context, self Node) bool {
	ctx, cancel := context.WithTimeout(ctx, LivenessTimeout)
	defer cancel()

	var ack struct {
		Status string `json:"status"`
	}
	err := c.http.PostJSON(ctx, "/nodes/enable", handshakeRequest{
		NodeUID: self.NodeUID,
		IP:      self.IPv4Address,
		Port:    self.Port,
		Role:    string(self.Role),
	}, &ack)
	return err == nil
}

// Exchange gossips: sends the given nodes, receives the callee's full
// known set back.
func (c *Client) Exchange(ctx context.Context, nodes []Node) ([]Node, error) {
	wires := make([]Wire, len(nodes))
	for i, n := range nodes {
		wires[i] = n.ToWire()
	}

	var resp struct {
		Nodes []Wire `json:"nodes"`
	}
	if err := c.http.PostJSON(ctx, "/nodes/exchange", struct {
		Nodes []Wire `json:"nodes"`
	}{Nodes: wires}, &resp); err != nil {
		return nil, err
	}

	out := make([]Node, 0, len(resp.Nodes))
	for _, w := range resp.Nodes {
		n, err := FromWire(w)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
