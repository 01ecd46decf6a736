package taskexecutor

import (
	"net/http"
	"regexp"

	"github.com/gorilla/mux"

	"dgrid/internal/httpapi"
)

// magnetPattern accepts a link carrying a BitTorrent info hash
// (urn:btih:<hex>), matched case-insensitively.
var magnetPattern = regexp.MustCompile(`(?i)urn:btih:[a-f0-9]+`)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/subtask/offer", h.Offer).Methods(http.MethodPost)
	r.HandleFunc("/subtask/start", h.Start).Methods(http.MethodPost)
	r.HandleFunc("/subtask/get", h.Get).Methods(http.MethodPost)
	r.HandleFunc("/subtasks", h.GetSubtasks).Methods(http.MethodPost)
	r.HandleFunc("/subtask/result", h.GetResult).Methods(http.MethodPost)
}

func (h *Handler) Offer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubtaskUID string `json:"subtask_uid"`
		CreatorUID string `json:"creator_uid"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	accepted, err := h.svc.Offer(req.SubtaskUID, req.CreatorUID)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteOK(w, struct {
		Status  string `json:"status"`
		Verdict string `json:"verdict"`
	}{Status: "success", Verdict: verdict(accepted)})
}

func verdict(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "rejected"
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubtaskUID string                 `json:"subtask_uid"`
		ImageTag   string                 `json:"image_tag"`
		DatasetUID string                 `json:"dataset_uid"`
		MagnetLink string                 `json:"magnet_link"`
		Params     map[string]interface{} `json:"params"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	if !magnetPattern.MatchString(req.MagnetLink) {
		httpapi.WriteError(w, http.StatusUnprocessableEntity, "invalid magnet_link")
		return
	}
	if err := h.svc.Start(r.Context(), req.SubtaskUID, req.ImageTag, req.DatasetUID, req.MagnetLink, req.Params); err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteOK(w, struct {
		SubtaskUID string `json:"subtask_uid"`
		Status     string `json:"status"`
	}{SubtaskUID: req.SubtaskUID, Status: string(StatusCreating)})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubtaskUID string `json:"subtask_uid"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	st, ok, err := h.svc.Get(req.SubtaskUID)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		httpapi.WriteError(w, http.StatusNotFound, "unknown subtask_uid")
		return
	}
	httpapi.WriteOK(w, st.ToWire())
}

func (h *Handler) GetSubtasks(w http.ResponseWriter, r *http.Request) {
	subtasks, err := h.svc.GetSubtasks()
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	wires := make([]Wire, len(subtasks))
	for i, st := range subtasks {
		wires[i] = st.ToWire()
	}
	httpapi.WriteOK(w, struct {
		Status   string `json:"status"`
		Subtasks []Wire `json:"subtasks"`
	}{Status: "success", Subtasks: wires})
}

func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubtaskUID string `json:"subtask_uid"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	raw, err := h.svc.GetResult(r.Context(), req.SubtaskUID)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(raw)
}
