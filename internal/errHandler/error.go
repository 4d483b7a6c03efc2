package errHandler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"unicode/utf8"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/helper"
	"github.com/cradoe/pawnbroker/internal/response"
	"github.com/cradoe/pawnbroker/internal/smtp"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type ErrorHandler struct {
	notificationEmail string
	logger            *slog.Logger
	help              *helper.HelperRepository
	mailer            smtp.MailerInterface
	// showDetail exposes apperror.Detail to clients; off in production.
	showDetail bool
}

func New(notificationEmail string, mailer smtp.MailerInterface, logger *slog.Logger, help *helper.HelperRepository, showDetail bool) *ErrorHandler {
	return &ErrorHandler{
		notificationEmail: notificationEmail,
		logger:            logger,
		help:              help,
		mailer:            mailer,
		showDetail:        showDetail,
	}
}

func (e *ErrorHandler) ReportServerError(r *http.Request, err error) {
	var (
		message = err.Error()
		trace   = string(debug.Stack())
		method  string
		url     string
	)
	if r != nil {
		method = r.Method
		url = r.URL.String()
	}

	requestAttrs := slog.Group("request", "method", method, "url", url)
	e.logger.Error(message, requestAttrs, "trace", trace)

	if e.notificationEmail != "" && e.mailer != nil {
		data := e.help.NewEmailData()
		data["Message"] = message
		data["RequestMethod"] = method
		data["RequestURL"] = url
		data["Trace"] = trace

		err := e.mailer.Send(e.notificationEmail, data, "error-notification.tmpl")
		if err != nil {
			e.logger.Error(err.Error(), requestAttrs, "trace", string(debug.Stack()))
		}
	}
}

type Error struct {
	w       http.ResponseWriter
	r       *http.Request
	errors  []string
	status  int
	message string
	detail  string
	headers http.Header
}

var upper = cases.Upper(language.English)

func (e *ErrorHandler) ErrorMessage(d *Error) {
	if d.message != "" {
		first, size := utf8.DecodeRuneInString(d.message)
		d.message = upper.String(string(first)) + d.message[size:]
	}
	if !e.showDetail {
		d.detail = ""
	}

	err := response.JSONErrorResponse(d.w, d.errors, d.message, d.detail, d.status, d.headers)
	if err != nil {
		e.ReportServerError(d.r, err)
		d.w.WriteHeader(http.StatusInternalServerError)
	}
}

// Handle writes err as the envelope for its kind. Anything that is not an
// apperror is an internal failure.
func (e *ErrorHandler) Handle(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperror.As(err)
	if !ok {
		e.ServerError(w, r, err)
		return
	}

	var headers http.Header
	status := StatusFor(appErr.Kind)
	switch status {
	case http.StatusUnauthorized:
		headers = make(http.Header)
		headers.Set("WWW-Authenticate", "Bearer")
	case http.StatusBadGateway:
		e.logger.Warn("upstream failure", slog.Group("request", "method", r.Method, "url", r.URL.String()), "error", err)
	}

	errs := appErr.Fields
	if len(errs) == 0 && appErr.Kind == apperror.KindValidation {
		errs = []string{appErr.Message}
	}

	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  status,
		message: appErr.Message,
		errors:  errs,
		detail:  appErr.Detail,
		headers: headers,
	})
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation, apperror.KindInvalidState, apperror.KindBusinessRule:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindDuplicate:
		return http.StatusConflict
	case apperror.KindForbidden:
		return http.StatusForbidden
	case apperror.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperror.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (e *ErrorHandler) ServerError(w http.ResponseWriter, r *http.Request, err error) {
	e.ReportServerError(r, err)

	var detail string
	if err != nil {
		detail = err.Error()
	}

	message := "The server encountered a problem and could not process your request"
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusInternalServerError,
		message: message,
		detail:  detail,
	})
}

func (e *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	message := "The requested resource could not be found"
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusNotFound,
		message: message,
	})
}

func (e *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	message := fmt.Sprintf("The %s method is not supported for this resource", r.Method)
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusMethodNotAllowed,
		message: message,
	})
}

func (e *ErrorHandler) BadRequest(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		err = errors.New("bad request")
	}
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusBadRequest,
		message: err.Error(),
		errors:  []string{err.Error()},
	})
}

func (e *ErrorHandler) FailedValidation(w http.ResponseWriter, r *http.Request, errs []string) {
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusBadRequest,
		message: "Validation failed",
		errors:  errs,
	})
}

func (e *ErrorHandler) InvalidAuthenticationToken(w http.ResponseWriter, r *http.Request) {
	headers := make(http.Header)
	headers.Set("WWW-Authenticate", "Bearer")

	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusUnauthorized,
		message: "Invalid authentication token",
		headers: headers,
	})
}

func (e *ErrorHandler) AuthenticationRequired(w http.ResponseWriter, r *http.Request) {
	message := "You must be authenticated to access this resource"
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusUnauthorized,
		message: message,
	})
}

func (e *ErrorHandler) Forbidden(w http.ResponseWriter, r *http.Request) {
	message := "You do not have permission to access this resource"
	e.ErrorMessage(&Error{
		w:       w,
		r:       r,
		status:  http.StatusForbidden,
		message: message,
	})
}
