package status

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/core-tools/hsu-quaestor/pkg/workers"
)

const mimeJSON = "application/json; charset=UTF-8"

// MemberSource is the part of a cluster the status surface reads
type MemberSource interface {
	Name() string
	Members() []workers.ManagedProcess
}

// MemberStatus is the JSON view of one cluster member
type MemberStatus struct {
	Index               int       `json:"index"`
	AgentType           string    `json:"agent_type"`
	ProcessName         string    `json:"process_name"`
	Pid                 int       `json:"pid"`
	HostName            string    `json:"host_name,omitempty"`
	Port                int       `json:"port,omitempty"`
	ServiceNames        []string  `json:"service_names,omitempty"`
	State               string    `json:"state"`
	Running             bool      `json:"running"`
	MonitoringSuspended bool      `json:"monitoring_suspended"`
	StartupFailures     int       `json:"startup_failures"`
	DueForRecycling     bool      `json:"due_for_recycling"`
	StartTime           time.Time `json:"start_time,omitempty"`
}

type ClusterStatus struct {
	Name    string         `json:"name"`
	Members []MemberStatus `json:"members"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler serves the cluster membership over REST.
type Handler struct {
	source MemberSource
	router *mux.Router
}

func NewHandler(source MemberSource) *Handler {
	router := mux.NewRouter()
	h := &Handler{source: source, router: router}
	router.HandleFunc("/cluster", h.getCluster).Methods("GET")
	router.HandleFunc("/members", h.listMembers).Methods("GET")
	router.HandleFunc("/members/{index}", h.getMember).Methods("GET")
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) getCluster(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, ClusterStatus{
		Name:    h.source.Name(),
		Members: h.memberStatuses(),
	})
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.memberStatuses())
}

func (h *Handler) getMember(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		h.writeError(w, &Error{Code: http.StatusBadRequest, Message: "Invalid member index"})
		return
	}

	members := h.source.Members()
	if index < 0 || index >= len(members) {
		h.writeError(w, &Error{Code: http.StatusNotFound, Message: "Member not found"})
		return
	}
	h.writeJSON(w, describe(index, members[index]))
}

func (h *Handler) memberStatuses() []MemberStatus {
	members := h.source.Members()
	statuses := make([]MemberStatus, 0, len(members))
	for i, member := range members {
		statuses = append(statuses, describe(i, member))
	}
	return statuses
}

func describe(index int, member workers.ManagedProcess) MemberStatus {
	status := MemberStatus{
		Index:               index,
		AgentType:           member.AgentType(),
		ProcessName:         member.ProcessName(),
		Pid:                 member.Pid(),
		State:               string(member.State()),
		Running:             member.IsKnownRunning(),
		MonitoringSuspended: member.MonitoringSuspended(),
		StartupFailures:     member.StartupFailureCount(),
		DueForRecycling:     member.IsDueForRecycling(),
	}
	if server, ok := workers.AsServerProcess(member); ok {
		status.HostName = server.HostName()
		status.Port = server.Port()
		status.ServiceNames = server.ServiceNames()
	}
	if started, ok := member.(interface{ StartTime() time.Time }); ok {
		status.StartTime = started.StartTime()
	}
	return status
}

func (h *Handler) writeJSON(w http.ResponseWriter, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeJSON)
	_, _ = w.Write(b)
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	b, err := json.Marshal(e)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", mimeJSON)
	w.WriteHeader(e.Code)
	_, _ = w.Write(b)
}
