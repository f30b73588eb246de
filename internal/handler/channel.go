package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/channelhub/internal/auth"
	"github.com/sakif/channelhub/internal/response"
	"github.com/sakif/channelhub/internal/service"
)

// ChannelHandler serves the channel profile and watch history read paths.
type ChannelHandler struct {
	channels *service.ChannelService
	logger   *slog.Logger
}

func NewChannelHandler(channels *service.ChannelService, logger *slog.Logger) *ChannelHandler {
	return &ChannelHandler{channels: channels, logger: logger}
}

// HandleChannelProfile returns a channel with its subscription counts.
// isSubscribed is relative to the caller, and false for anonymous callers.
//
// HTTP: GET /api/v1/users/channel/{username} (optional auth)
func (h *ChannelHandler) HandleChannelProfile(w http.ResponseWriter, r *http.Request) error {
	viewerID, _ := auth.UserIDFromContext(r.Context())

	profile, err := h.channels.ChannelProfile(r.Context(), r.PathValue("username"), viewerID)
	if err != nil {
		return err
	}
	response.Success(w, http.StatusOK, profile, "User channel fetched successfully")
	return nil
}

// HTTP: GET /api/v1/users/watch-history (auth)
func (h *ChannelHandler) HandleWatchHistory(w http.ResponseWriter, r *http.Request) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}

	history, err := h.channels.WatchHistory(r.Context(), userID)
	if err != nil {
		return err
	}
	response.Success(w, http.StatusOK, history, "Watch history fetched successfully")
	return nil
}

// HTTP: POST /api/v1/users/history/{videoID} (auth)
func (h *ChannelHandler) HandleRecordView(w http.ResponseWriter, r *http.Request) error {
	userID, err := requireUserID(r)
	if err != nil {
		return err
	}

	if err := h.channels.RecordView(r.Context(), userID, r.PathValue("videoID")); err != nil {
		return err
	}
	response.Success(w, http.StatusOK, emptyData, "View recorded")
	return nil
}
