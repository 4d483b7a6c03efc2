package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/cradoe/pawnbroker/internal/config"
	"github.com/cradoe/pawnbroker/internal/file"
	"github.com/cradoe/pawnbroker/internal/gateway"
	"github.com/cradoe/pawnbroker/internal/mocks"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/notify"
	"github.com/cradoe/pawnbroker/internal/service"
	"github.com/cradoe/pawnbroker/internal/testutil/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPassword = "Pawn!Shop#2025secure"

type testApp struct {
	app     *Application
	handler http.Handler
	sent    *notify.Recorder
	files   *file.Memory
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	var cfg config.Config
	cfg.Environment = config.EnvironmentDevelopment
	cfg.BaseURL = "http://pawnbroker.test"
	cfg.Jwt.SecretKey = "routes-test-secret"

	ta := &testApp{sent: &notify.Recorder{}, files: &file.Memory{}}
	ta.app = &Application{
		Config:       cfg,
		DB:           memstore.New(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Gateway:      gateway.NewFake(),
		Notifier:     ta.sent,
		FileUploader: ta.files,
	}
	ta.app.Assemble()
	ta.handler = ta.app.routes()
	return ta
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  []string        `json:"errors"`
}

func (ta *testApp) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	r := httptest.NewRequest(method, path, reader)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	return ta.serve(t, r, token)
}

func (ta *testApp) serve(t *testing.T, r *http.Request, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	ta.handler.ServeHTTP(rr, r)

	var env envelope
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	}
	return rr, env
}

func (ta *testApp) lastCode(t *testing.T, event string) string {
	t.Helper()

	sent := ta.sent.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].Event == event {
			return sent[i].Data["Code"].(string)
		}
	}
	t.Fatalf("no %s notification", event)
	return ""
}

func (ta *testApp) login(t *testing.T, email string) string {
	t.Helper()

	rr, env := ta.do(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{"email": email, "password": testPassword})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var data struct {
		Token string `json:"auth_token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NotEmpty(t, data.Token)
	return data.Token
}

func (ta *testApp) customer(t *testing.T, email string) string {
	t.Helper()

	rr, _ := ta.do(t, http.MethodPost, "/api/v1/users/register", "", service.RegisterInput{
		Email:    email,
		Password: testPassword,
		FullName: "Chipo Moyo",
		Phone:    "+263772000222",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr, _ = ta.do(t, http.MethodPost, "/api/v1/users/verify-email", "", map[string]string{
		"email": email,
		"code":  ta.lastCode(t, "user.register"),
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	return ta.login(t, email)
}

func (ta *testApp) staff(t *testing.T, email string, roles ...string) string {
	t.Helper()

	_, err := ta.app.Services.Users.CreateStaff(context.Background(), models.SystemActor(models.ChannelSystem), service.StaffInput{
		Email:    email,
		Password: testPassword,
		FullName: "Tendai Staff",
		Phone:    "+263772000333",
		Roles:    roles,
	})
	require.NoError(t, err)
	return ta.login(t, email)
}

func TestHealthCheck(t *testing.T) {
	ta := newTestApp(t)

	rr, env := ta.do(t, http.MethodGet, "/api/v1/status", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, env.Success)
	assert.Contains(t, string(env.Data), `"status"`)
}

func TestUnknownRoutesAreNotFound(t *testing.T) {
	ta := newTestApp(t)

	rr, env := ta.do(t, http.MethodGet, "/api/v1/pawn-tickets", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.False(t, env.Success)

	rr, _ = ta.do(t, http.MethodPatch, "/api/v1/status", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRegisterVerifyLoginMe(t *testing.T) {
	ta := newTestApp(t)

	rr, env := ta.do(t, http.MethodPost, "/api/v1/users/register", "", service.RegisterInput{
		Email:    "chipo@example.com",
		Password: testPassword,
		FullName: "Chipo Moyo",
		Phone:    "+263772000222",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.True(t, env.Success)

	rr, _ = ta.do(t, http.MethodPost, "/api/v1/users/login", "", map[string]string{"email": "chipo@example.com", "password": testPassword})
	assert.Equal(t, http.StatusForbidden, rr.Code, "pending accounts cannot log in")

	rr, _ = ta.do(t, http.MethodPost, "/api/v1/users/verify-email", "", map[string]string{
		"email": "chipo@example.com",
		"code":  ta.lastCode(t, "user.register"),
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	token := ta.login(t, "chipo@example.com")

	rr, env = ta.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var me struct {
		Email string   `json:"email"`
		Roles []string `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, "chipo@example.com", me.Email)
	assert.Equal(t, []string{models.RoleCustomer}, me.Roles)

	rr, _ = ta.do(t, http.MethodPost, "/api/v1/users/register", "", service.RegisterInput{
		Email:    "chipo@example.com",
		Password: testPassword,
		FullName: "Chipo Moyo",
		Phone:    "+263772000222",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestMalformedBodyIsBadRequest(t *testing.T) {
	ta := newTestApp(t)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/users/login", strings.NewReader(`{"email":`))
	r.Header.Set("Content-Type", "application/json")
	rr, env := ta.serve(t, r, "")

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.False(t, env.Success)
	assert.NotEmpty(t, env.Errors)
}

func TestRoleGates(t *testing.T) {
	ta := newTestApp(t)
	customer := ta.customer(t, "chipo@example.com")
	auditor := ta.staff(t, "manager@pawnbroker.test", models.RoleManagement)

	rr, _ := ta.do(t, http.MethodGet, "/api/v1/audit-logs", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = ta.do(t, http.MethodGet, "/api/v1/audit-logs", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "Bearer", rr.Header().Get("WWW-Authenticate"))

	rr, _ = ta.do(t, http.MethodGet, "/api/v1/audit-logs", customer, nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr, env := ta.do(t, http.MethodGet, "/api/v1/audit-logs", auditor, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var page struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.NotEmpty(t, page.Items, "registration and staff creation are journaled")

	rr, _ = ta.do(t, http.MethodPost, "/api/v1/valuations", customer, map[string]string{"asset_id": "x"})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestPaynowWebhookUnknownReference(t *testing.T) {
	ta := newTestApp(t)

	form := url.Values{"reference": {"BP-UNKNOWN"}, "status": {"Paid"}}
	r := httptest.NewRequest(http.MethodPost, "/api/v1/bid-payments/webhook/paynow", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr, _ := ta.serve(t, r, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = ta.do(t, http.MethodPost, "/api/v1/bid-payments/webhook/paynow", "", map[string]any{"reference": "BP-UNKNOWN", "status": "Paid"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func multipartUpload(t *testing.T, filename, content string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestUploadFile(t *testing.T) {
	ta := newTestApp(t)
	token := ta.customer(t, "chipo@example.com")

	rr, _ := ta.serve(t, multipartUpload(t, "ring.jpg", "jpeg bytes"), "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, env := ta.serve(t, multipartUpload(t, "ring.jpg", "jpeg bytes"), token)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var data struct {
		Handle string `json:"handle"`
		Name   string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, "ring.jpg", data.Name)
	assert.Equal(t, []byte("jpeg bytes"), ta.files.Files[data.Handle])

	rr, _ = ta.serve(t, multipartUpload(t, "payload.exe", "MZ"), token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestUploadFailureIsBadGateway(t *testing.T) {
	ta := newTestApp(t)
	token := ta.customer(t, "chipo@example.com")

	uploader := new(mocks.MockUploader)
	uploader.On("Upload", mock.Anything, "ring.png", mock.Anything).Return("", errors.New("cloudinary: 503")).Once()
	ta.app.FileUploader = uploader
	ta.handler = ta.app.routes()

	rr, env := ta.serve(t, multipartUpload(t, "ring.png", "png bytes"), token)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.False(t, env.Success)
	uploader.AssertExpectations(t)
}
