package datactl

import (
	"net/http"

	"github.com/gorilla/mux"

	"dgrid/internal/httpapi"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/data/publish", h.Publish).Methods(http.MethodPost)
	r.HandleFunc("/data/download", h.Download).Methods(http.MethodPost)
	r.HandleFunc("/data", h.Get).Methods(http.MethodPost)
}

func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	datasetUID, err := h.svc.Publish(r.Context(), req.Path)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteOK(w, struct {
		DatasetUID string `json:"dataset_uid"`
	}{DatasetUID: datasetUID})
}

func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DatasetUID string `json:"dataset_uid"`
		MagnetLink string `json:"magnet_link"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.Download(r.Context(), req.DatasetUID, req.MagnetLink); err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteOK(w, struct {
		DatasetUID string `json:"dataset_uid"`
	}{DatasetUID: req.DatasetUID})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DatasetUID string `json:"dataset_uid"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	d, ok, err := h.svc.Get(req.DatasetUID)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		httpapi.WriteError(w, http.StatusNotFound, "unknown dataset_uid")
		return
	}
	httpapi.WriteOK(w, d.ToWire())
}
