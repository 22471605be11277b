package handler

import (
	"context"
	"net/http"

	logger "github.com/sirupsen/logrus"

	"tradeexecutor/src/model"
	"tradeexecutor/src/reconcile"
)

type reconciler interface {
	Reconcile(ctx context.Context, autoFix bool) (*reconcile.Report, error)
}

type ReconcilePayload struct {
	AutoFix bool `json:"autoFix"`
}

func ReconcileHandler(rec reconciler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p ReconcilePayload
		if err := decode(r, &p); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		report, err := rec.Reconcile(r.Context(), p.AutoFix)
		if err != nil {
			logger.WithError(err).Error("reconcile failed")
			writeError(w, http.StatusInternalServerError, model.NewExecError(model.ErrInternal, "", "", err.Error(), ""))
			return
		}
		if report.Errors == nil {
			report.Errors = []*model.ExecError{}
		}
		writeJSON(w, http.StatusOK, report)
	}
}
