package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"boardsync/application/compaction"
	"boardsync/pkg/common"
	"boardsync/pkg/errors"
)

// AdminHandler exposes operational actions.
type AdminHandler struct {
	store    compaction.Store
	locker   compaction.Locker
	reporter compaction.Reporter
	defaults compaction.Options
	logger   *zap.Logger
}

// NewAdminHandler creates the handler. locker and reporter may be nil.
func NewAdminHandler(store compaction.Store, locker compaction.Locker, reporter compaction.Reporter, defaults compaction.Options, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		store:    store,
		locker:   locker,
		reporter: reporter,
		defaults: defaults,
		logger:   logger,
	}
}

// compactionResponse is the trigger endpoint's envelope: the summary
// sits beside success at the top level.
type compactionResponse struct {
	Success bool               `json:"success"`
	Summary compaction.Summary `json:"summary"`
}

// TriggerCompaction runs a compaction pass synchronously. The
// threshold and keepLast query parameters override the configured
// defaults for this run only.
func (h *AdminHandler) TriggerCompaction(w http.ResponseWriter, r *http.Request) {
	opts := h.defaults
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			common.RespondError(w, errors.NewValidationError("threshold must be an integer"))
			return
		}
		opts.Threshold = v
	}
	if raw := r.URL.Query().Get("keepLast"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			common.RespondError(w, errors.NewValidationError("keepLast must be an integer"))
			return
		}
		opts.KeepLast = v
	}

	compactor, err := compaction.New(h.store, h.locker, h.reporter, opts, h.logger)
	if err != nil {
		common.RespondError(w, err)
		return
	}

	identity, _ := common.IdentityFrom(r.Context())
	h.logger.Info("manual compaction triggered",
		zap.String("userID", identity.UserID),
		zap.Int("threshold", opts.Threshold),
		zap.Int("keepLast", opts.KeepLast),
	)

	summary, err := compactor.Run(r.Context())
	if err != nil {
		common.RespondError(w, err)
		return
	}
	common.RespondRawJSON(w, http.StatusOK, compactionResponse{Success: true, Summary: summary})
}
