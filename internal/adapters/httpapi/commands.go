package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/app"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/httpjson"
)

// CommandsHandler expose les commandes utilisateur (download, follow, notify, unfollow).
// Elles répondent dès la mise en file; le résultat se suit via /jobs/{id} ou /events.
type CommandsHandler struct {
	commands *app.CommandService
}

func NewCommandsHandler(commands *app.CommandService) *CommandsHandler {
	return &CommandsHandler{commands: commands}
}

func (h *CommandsHandler) Routes(r chi.Router) {
	r.Post("/download", h.download)
	r.Post("/follow", h.follow)
	r.Delete("/follow", h.unfollow)
	r.Post("/notify", h.notify)
	r.Get("/follows", h.follows)
}

func (h *CommandsHandler) download(w http.ResponseWriter, r *http.Request) {
	var req app.DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	st, err := h.commands.Download(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusAccepted, st)
}

func (h *CommandsHandler) follow(w http.ResponseWriter, r *http.Request) {
	h.followCommand(w, r, h.commands.Follow, http.StatusAccepted)
}

func (h *CommandsHandler) notify(w http.ResponseWriter, r *http.Request) {
	h.followCommand(w, r, h.commands.Notify, http.StatusOK)
}

func (h *CommandsHandler) unfollow(w http.ResponseWriter, r *http.Request) {
	h.followCommand(w, r, h.commands.Unfollow, http.StatusOK)
}

type followFunc func(ctx context.Context, req app.FollowRequest) (app.CommandStatus, error)

func (h *CommandsHandler) followCommand(w http.ResponseWriter, r *http.Request, fn followFunc, status int) {
	var req app.FollowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpjson.WriteError(w, http.StatusBadRequest, "invalid json")
		return
	}
	st, err := fn(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	httpjson.Write(w, status, st)
}

func (h *CommandsHandler) follows(w http.ResponseWriter, r *http.Request) {
	list, err := h.commands.Follows(r.Context(), r.URL.Query().Get("subscriber"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	httpjson.Write(w, http.StatusOK, list)
}
