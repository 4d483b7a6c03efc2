package errHandler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/helper"
	"github.com/cradoe/pawnbroker/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestHandler(mailer *mocks.MockMailer, email string, showDetail bool) *ErrorHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(email, mailer, logger, helper.New("http://pawnbroker.test", nil, logger), showDetail)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestStatusFor(t *testing.T) {
	cases := map[apperror.Kind]int{
		apperror.KindValidation:      http.StatusBadRequest,
		apperror.KindInvalidState:    http.StatusBadRequest,
		apperror.KindBusinessRule:    http.StatusBadRequest,
		apperror.KindNotFound:        http.StatusNotFound,
		apperror.KindDuplicate:       http.StatusConflict,
		apperror.KindForbidden:       http.StatusForbidden,
		apperror.KindUnauthenticated: http.StatusUnauthorized,
		apperror.KindUpstream:        http.StatusBadGateway,
		apperror.Kind("mystery"):     http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusFor(kind), kind)
	}
}

func TestHandleValidationUsesMessageAsError(t *testing.T) {
	h := newTestHandler(new(mocks.MockMailer), "", true)
	rr := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/loans", nil)

	h.Handle(rr, r, apperror.Validation("principal amount is required"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Principal amount is required", body["message"])
	assert.Equal(t, []any{"principal amount is required"}, body["errors"])
}

func TestHandleUnauthenticatedSetsChallenge(t *testing.T) {
	h := newTestHandler(new(mocks.MockMailer), "", true)
	rr := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/users/me", nil)

	h.Handle(rr, r, apperror.Unauthenticated("invalid credentials"))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))
}

func TestHandleHidesDetailInProduction(t *testing.T) {
	err := apperror.Upstream("payment gateway unavailable", errors.New("dial tcp 10.0.0.1:443: i/o timeout"))

	rr := httptest.NewRecorder()
	newTestHandler(new(mocks.MockMailer), "", false).Handle(rr, httptest.NewRequest(http.MethodPost, "/", nil), err)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.NotContains(t, decodeBody(t, rr), "detail")

	rr = httptest.NewRecorder()
	newTestHandler(new(mocks.MockMailer), "", true).Handle(rr, httptest.NewRequest(http.MethodPost, "/", nil), err)
	assert.Contains(t, decodeBody(t, rr)["detail"], "i/o timeout")
}

func TestHandleUnknownErrorReportsServerError(t *testing.T) {
	mailer := new(mocks.MockMailer)
	mailer.On("Send", "ops@pawnbroker.test", mock.Anything, []string{"error-notification.tmpl"}).Return(nil).Once()

	h := newTestHandler(mailer, "ops@pawnbroker.test", false)
	rr := httptest.NewRecorder()
	h.Handle(rr, httptest.NewRequest(http.MethodGet, "/api/v1/loans", nil), errors.New("connection reset"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeBody(t, rr)
	assert.NotContains(t, body, "detail")
	mailer.AssertExpectations(t)

	data := mailer.Calls[0].Arguments.Get(1).(map[string]any)
	assert.Equal(t, "connection reset", data["Message"])
	assert.Equal(t, "http://pawnbroker.test", data["BaseURL"])
}

func TestReportServerErrorWithoutEmailSendsNothing(t *testing.T) {
	mailer := new(mocks.MockMailer)
	h := newTestHandler(mailer, "", true)

	h.ReportServerError(nil, errors.New("background task failed"))

	mailer.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}
