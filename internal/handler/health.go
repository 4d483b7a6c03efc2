package handler

import (
	"net/http"

	"github.com/cradoe/pawnbroker/internal/version"
)

func (h *RouteHandler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	data := map[string]string{
		"status":  "available",
		"version": version.Get(),
	}

	h.ok(w, r, data, "Up and grateful")
}
