package taskctl

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
	r.HandleFunc("/task/create", h.Create).Methods(http.MethodPost)
	r.HandleFunc("/task", h.Get).Methods(http.MethodPost)
	r.HandleFunc("/tasks", h.List).Methods(http.MethodPost)
	r.HandleFunc("/task/result", h.Result).Methods(http.MethodPost)
	r.HandleFunc("/task/subtasks", h.Subtasks).Methods(http.MethodPost)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CreatorUID  string                 `json:"creator_uid"`
		TaskType    string                 `json:"task_type"`
		Params      map[string]interface{} `json:"params"`
		DatasetPath string                 `json:"dataset_path"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	taskUID, err := h.svc.CreateTask(req.CreatorUID, TaskType(req.TaskType), req.Params, req.DatasetPath)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httpapi.WriteOK(w, struct {
		TaskUID string `json:"task_uid"`
		Status  string `json:"status"`
	}{TaskUID: taskUID, Status: string(TaskCreating)})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskUID string `json:"task_uid"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	t, ok, err := h.svc.GetTask(req.TaskUID)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		httpapi.WriteError(w, http.StatusNotFound, "unknown task_uid")
		return
	}
	httpapi.WriteOK(w, t.ToWire())
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.svc.ListTasks()
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	wires := make([]Wire, len(tasks))
	for i, t := range tasks {
		wires[i] = t.ToWire()
	}
	httpapi.WriteOK(w, struct {
		Status string `json:"status"`
		Tasks  []Wire `json:"tasks"`
	}{Status: "success", Tasks: wires})
}

func (h *Handler) Result(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskUID string `json:"task_uid"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	t, ok, err := h.svc.GetTask(req.TaskUID)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		httpapi.WriteError(w, http.StatusNotFound, "unknown task_uid")
		return
	}
	httpapi.WriteOK(w, struct {
		TaskUID string                   `json:"task_uid"`
		Status  string                   `json:"status"`
		Result  []map[string]interface{} `json:"result,omitempty"`
	}{TaskUID: t.TaskUID, Status: string(t.Status), Result: t.Result})
}

func (h *Handler) Subtasks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TaskUID string `json:"task_uid"`
	}
	if !httpapi.DecodeJSON(w, r, &req) {
		return
	}
	subtasks, err := h.svc.GetSubtasks(req.TaskUID)
	if err != nil {
		httpapi.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	wires := make([]subtaskWire, len(subtasks))
	for i, st := range subtasks {
		wires[i] = subtaskWire{SubtaskUID: st.SubtaskUID, NodeUID: st.NodeUID, Status: string(st.Status)}
	}
	httpapi.WriteOK(w, struct {
		Status   string        `json:"status"`
		Subtasks []subtaskWire `json:"subtasks"`
	}{Status: "success", Subtasks: wires})
}

type subtaskWire struct {
	SubtaskUID string `json:"subtask_uid"`
	NodeUID    string `json:"node_uid"`
	Status     string `json:"status"`
}
