package httpapi

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/Guilhem-Bonnet/hue-downloader/internal/app"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/domain"
	"github.com/Guilhem-Bonnet/hue-downloader/internal/httpjson"
)

// writeAppError traduit les erreurs des services en statut HTTP.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidReferenceFormat), errors.Is(err, domain.ErrInvalidEpisodeRange):
		httpjson.WriteCodedError(w, http.StatusBadRequest, string(domain.OutcomeInvalidRequest), err.Error())
	case app.IsValidationError(err):
		httpjson.WriteCodedError(w, http.StatusBadRequest, "invalid_command", err.Error())
	case errors.Is(err, app.ErrNotFound):
		httpjson.WriteError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrStoragePersistence):
		hlog.FromRequest(r).Error().Err(err).Msg("storage error")
		httpjson.WriteCodedError(w, http.StatusInternalServerError, "storage_error", "storage error")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		httpjson.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}
