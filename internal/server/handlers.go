package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/claw/internal/agent/runner"
	"github.com/openclaw/claw/internal/agent/session"
	"github.com/openclaw/claw/internal/agent/skills"
	"github.com/openclaw/claw/internal/agent/tools"
	"github.com/openclaw/claw/internal/logging"
)

// maxBodyBytes bounds request bodies; skill catalogs and prompts are
// small documents.
const maxBodyBytes = 1 << 20

type handlers struct {
	deps *Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Errorf("[server] encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return data, true
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ====
// Skills
// ====

func (h *handlers) listSkills(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Registry.ListSkills())
}

func (h *handlers) toggleSkill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	skill, ok := h.deps.Registry.GetSkill(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown skill "+id)
		return
	}

	enabled := !skill.Enabled
	h.deps.Registry.SetEnabled(id, enabled)
	h.registryChanged()
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

// submitCustomSkill registers a command-tool catalog. The commands go
// through the security scanner first; any critical finding refuses the
// catalog outright.
func (h *handlers) submitCustomSkill(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}

	skill, commands, err := tools.ParseCommandSkill(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary := skills.Scan(strings.Join(commands, "\n"))
	if summary.Criticals > 0 {
		logging.Warnf("[server] refused custom skill %s: %d critical finding(s)", skill.ID, summary.Criticals)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error": "skill refused: the scan found critical issues",
			"scan":  summary,
		})
		return
	}

	h.deps.Registry.AddCustom(skill)
	h.registryChanged()
	logging.Infof("[server] registered custom skill %s with %d tool(s)", skill.ID, len(skill.Tools))
	writeJSON(w, http.StatusCreated, map[string]any{"id": skill.ID, "scan": summary})
}

func (h *handlers) removeCustomSkill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.deps.Registry.RemoveCustom(id) {
		writeError(w, http.StatusNotFound, "unknown custom skill "+id)
		return
	}
	h.registryChanged()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) registryChanged() {
	if h.deps.OnRegistryChange != nil {
		h.deps.OnRegistryChange()
	}
}

// ====
// Agent skills (markdown documents)
// ====

func (h *handlers) listAgentSkills(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Loader == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Loader.List())
}

// ====
// Sessions
// ====

func (h *handlers) listSessions(w http.ResponseWriter, _ *http.Request) {
	list, err := h.deps.Sessions.ListSessions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) sessionMessages(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	sess, err := h.deps.Sessions.Get(key)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown session "+key)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, _ = strconv.Atoi(v)
	}
	msgs, err := h.deps.Sessions.GetMessages(sess.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *handlers) deleteSession(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	sess, err := h.deps.Sessions.Get(key)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown session "+key)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if _, err := h.deps.Sessions.DeleteSession(sess.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ====
// Chat turns
// ====

type chatRequest struct {
	Prompt      string `json:"prompt"`
	SessionKey  string `json:"sessionKey,omitempty"`
	AutoConfirm bool   `json:"autoConfirm,omitempty"`
}

func toRunRequest(req chatRequest) *runner.RunRequest {
	return &runner.RunRequest{
		SessionKey:  req.SessionKey,
		Prompt:      req.Prompt,
		AutoConfirm: req.AutoConfirm,
	}
}

func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	res, err := h.deps.Runner.Run(r.Context(), toRunRequest(req))
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) confirmTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.deps.Runner.Confirm(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) rejectTurn(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.deps.Runner.Reject(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
