package envctl

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
	r.HandleFunc("/image/push", h.Push).Methods(http.MethodPost)
	r.HandleFunc("/image/pull", h.Pull).Methods(http.MethodPost)
	r.HandleFunc("/image/status", h.ImageStatus).Methods(http.MethodPost)
	r.HandleFunc("/container/run", h.ContainerRun).Methods(http.MethodPost)
	r.HandleFunc("/container/status", h.ContainerStatus).Methods(http.MethodPost)
	r.HandleFunc("/container/result", h.ContainerResult).Methods(http.MethodPost)
}

func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskKind    string `json:"task_type"`
		SubtaskKind string `json:"subtask_type"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	tag, status, err := h.svc.Push(r.Context(), req.TaskKind, req.SubtaskKind)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteOK(w, struct {
		Status   string `json:"status"`
		ImageTag string `json:"image_tag"`
	}{Status: string(status), ImageTag: tag})
}

func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageTag string `json:"image_tag"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	status, err := h.svc.Pull(r.Context(), req.ImageTag)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteOK(w, struct {
		Status   string `json:"status"`
		ImageTag string `json:"image_tag"`
	}{Status: string(status), ImageTag: req.ImageTag})
}

func (h *Handler) ImageStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ImageTag string `json:"image_tag"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	img, ok, err := h.svc.ImageStatus(req.ImageTag)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		httpapi.WriteError(w, http.StatusNotFound, "unknown image_tag")
		return
	}
	httpapi.WriteOK(w, img.ToWire())
}

func (h *Handler) ContainerRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubtaskUID string   `json:"subtask_uid"`
		ImageTag   string   `json:"image_tag"`
		InputFiles []string `json:"input_files"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.Run(r.Context(), req.SubtaskUID, req.ImageTag, req.InputFiles); err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteOK(w, struct {
		SubtaskUID string `json:"subtask_uid"`
		Status     string `json:"status"`
	}{SubtaskUID: req.SubtaskUID, Status: string(ContainerCreating)})
}

func (h *Handler) ContainerStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubtaskUID string `json:"subtask_uid"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	run, ok, err := h.svc.ContainerStatus(req.SubtaskUID)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		httpapi.WriteError(w, http.StatusNotFound, "unknown subtask_uid")
		return
	}
	httpapi.WriteOK(w, struct {
		SubtaskUID string `json:"subtask_uid"`
		Status     string `json:"status"`
	}{SubtaskUID: run.SubtaskUID, Status: string(run.Status)})
}

func (h *Handler) ContainerResult(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubtaskUID string `json:"subtask_uid"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	run, ok, err := h.svc.ContainerStatus(req.SubtaskUID)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok || run.ResultFile == "" {
		httpapi.WriteError(w, http.StatusNotFound, "result not available")
		return
	}
	httpapi.WriteOK(w, struct {
		SubtaskUID string `json:"subtask_uid"`
		ResultFile string `json:"result_file"`
	}{SubtaskUID: run.SubtaskUID, ResultFile: run.ResultFile})
}
