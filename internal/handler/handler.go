package handler

import (
	"net/http"
	"strings"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/context"
	"github.com/cradoe/pawnbroker/internal/errHandler"
	"github.com/cradoe/pawnbroker/internal/file"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/request"
	"github.com/cradoe/pawnbroker/internal/response"
	"github.com/cradoe/pawnbroker/internal/service"

	"github.com/shopspring/decimal"
	"github.com/tomasen/realip"
)

type RouteHandler struct {
	Services   *service.Services
	ErrHandler *errHandler.ErrorHandler
	Uploader   file.Uploader
}

func NewRouteHandler(handler *RouteHandler) *RouteHandler {
	return &RouteHandler{
		Services:   handler.Services,
		ErrHandler: handler.ErrHandler,
		Uploader:   handler.Uploader,
	}
}

// actor returns the identity set by the Authenticate middleware, falling back
// to an anonymous web actor when the handler is mounted without it.
func actor(r *http.Request) models.Actor {
	if a, ok := context.ContextGetActor(r); ok {
		return a
	}
	return models.Actor{
		IP:        realip.FromRequest(r),
		UserAgent: r.UserAgent(),
		Channel:   models.ChannelWeb,
	}
}

// decode rejects unknown keys so typos in request bodies surface as 400s.
func (h *RouteHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := request.DecodeJSONStrict(w, r, dst); err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return false
	}
	return true
}

func (h *RouteHandler) query(w http.ResponseWriter, r *http.Request) (*request.QueryValues, bool) {
	q, err := request.ParseQuery(r)
	if err != nil {
		h.ErrHandler.Handle(w, r, err)
		return nil, false
	}
	return q, true
}

func (h *RouteHandler) ok(w http.ResponseWriter, r *http.Request, data any, message string) {
	if err := response.JSONOkResponse(w, data, message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *RouteHandler) created(w http.ResponseWriter, r *http.Request, data any, message string) {
	if err := response.JSONCreatedResponse(w, data, message); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func page[T any](items []T, q *request.QueryValues, total int) response.Page[T] {
	return response.NewPage(items, q.Page, q.Limit, total)
}

// csv splits a comma separated query value, dropping blanks.
func csv(value string) []string {
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseAmount(field, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, apperror.FieldInvalid(field, field+" must be a number")
	}
	return d, nil
}
