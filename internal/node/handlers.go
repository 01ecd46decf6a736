package node

import (
	"net/http"

	"github.com/gorilla/mux"

	"dgrid/internal/httpapi"
)

// Handler exposes the Registry over HTTP. Mirrors the teacher's
// HAHandler shape: a thin struct wrapping the manager, one method per
// route, each method itself a plain http.HandlerFunc.
type Handler struct {
	registry *Registry
}

func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// Register mounts every /nodes/* and /ping route on r.
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/ping", h.Ping).Methods(http.MethodGet)
	r.HandleFunc("/nodes/active", h.Active).Methods(http.MethodPost)
	r.HandleFunc("/nodes/handshake", h.Handshake).Methods(http.MethodPost)
	r.HandleFunc("/nodes/exchange", h.Exchange).Methods(http.MethodPost)
	r.HandleFunc("/nodes/join", h.Join).Methods(http.MethodPost)
	r.HandleFunc("/nodes/leave", h.Leave).Methods(http.MethodPost)
	r.HandleFunc("/nodes/enable", h.Enable).Methods(http.MethodPost)
	r.HandleFunc("/nodes/disable", h.Disable).Methods(http.MethodPost)
}

func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	httpapi.WriteOK(w, struct {
		Status string `json:"status"`
	}{Status: "success"})
}

func (h *Handler) Active(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.registry.Active()
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteOK(w, nodesResponse(nodes))
}

func (h *Handler) Handshake(w http.ResponseWriter, r *http.Request) {
	var req handshakeRequest
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	peer := Node{NodeUID: req.NodeUID, IPv4Address: req.IP, Port: req.Port, Role: role}
	self, err := h.registry.Handshake(peer)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteOK(w, self.ToWire())
}

func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Nodes []Wire `json:"nodes"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	nodes := make([]Node, 0, len(req.Nodes))
	for _, w := range req.Nodes {
		n, err := FromWire(w)
		if err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	known, err := h.registry.Exchange(nodes)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteOK(w, nodesResponse(known))
}

func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IP   string `json:"ip"`
		Port int    `json:"port"`
		Role string `json:"role"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	n, err := h.registry.Join(req.IP, req.Port, role)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteOK(w, struct {
		Status  string `json:"status"`
		NodeUID string `json:"node_uid"`
	}{Status: "success", NodeUID: n.NodeUID})
}

func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeUID string `json:"node_uid"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.registry.Leave(req.NodeUID); err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteAck(w)
}

func (h *Handler) Enable(w http.ResponseWriter, r *http.Request) {
	var req handshakeRequest
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.registry.Enable(req.NodeUID, req.IP, req.Port); err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteAck(w)
}

func (h *Handler) Disable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NodeUID string `json:"node_uid"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.registry.Disable(req.NodeUID); err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteAck(w)
}

func nodesResponse(nodes []Node) interface{} {
	wires := make([]Wire, len(nodes))
	for i, n := range nodes {
		wires[i] = n.ToWire()
	}
	return struct {
		Status string `json:"status"`
		Nodes  []Wire `json:"nodes"`
	}{Status: "success", Nodes: wires}
}
