package app

import (
	"net/http"
	"strings"

	"github.com/cradoe/pawnbroker/internal/handler"
	"github.com/cradoe/pawnbroker/internal/middleware"
	"github.com/cradoe/pawnbroker/internal/models"
)

const apiPrefix = "/api/v1"

func (app *Application) routes() http.Handler {
	mux := http.NewServeMux()

	mid := middleware.New(app.errorHandler, app.Logger, app.DB.User(), middleware.JwtConfig{
		SecretKey: app.Config.Jwt.SecretKey,
		Issuer:    app.Config.BaseURL,
	})
	if app.Now != nil {
		mid.Now = app.Now
	}

	h := handler.NewRouteHandler(&handler.RouteHandler{
		Services:   app.Services,
		ErrHandler: app.errorHandler,
		Uploader:   app.FileUploader,
	})

	open := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(withPrefix(pattern), fn)
	}
	authed := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(withPrefix(pattern), mid.RequireAuthenticatedUser(fn))
	}
	gated := func(roles []string) func(string, http.HandlerFunc) {
		return func(pattern string, fn http.HandlerFunc) {
			mux.Handle(withPrefix(pattern), mid.RequireRole(roles...)(fn))
		}
	}
	staff := gated(models.StaffRoles)
	admin := gated(models.AdminRoles)
	audit := gated(models.AuditRoles)

	mux.HandleFunc("/", app.errorHandler.NotFound)
	open("GET /status", h.HandleHealthCheck)

	// users
	open("POST /users/register", h.HandleAuthRegister)
	open("POST /users/verify-email", h.HandleAuthVerifyEmail)
	open("POST /users/login", h.HandleAuthLogin)
	open("POST /users/forgot-password", h.HandleAuthForgotPassword)
	open("POST /users/reset-password", h.HandleAuthResetPassword)
	authed("POST /users/account-deletion/request", h.HandleAccountDeletionRequest)
	authed("POST /users/account-deletion/confirm", h.HandleAccountDeletionConfirm)
	authed("GET /users/me", h.HandleGetMe)
	authed("PUT /users/me", h.HandleUpdateMe)
	audit("GET /users", h.HandleListUsers)
	admin("POST /users", h.HandleCreateStaff)
	authed("GET /users/{id}", h.HandleGetUser)
	admin("PUT /users/{id}/status", h.HandleUpdateUserStatus)

	// uploads
	authed("POST /uploads", h.HandleUploadFile)

	// assets
	authed("POST /assets", h.HandleCreateAsset)
	authed("GET /assets", h.HandleListAssets)
	staff("GET /assets/stats", h.HandleAssetStats)
	authed("GET /assets/search", h.HandleSearchAssets)
	authed("GET /assets/owner/{ownerId}", h.HandleAssetsByOwner)
	authed("GET /assets/{id}", h.HandleGetAsset)
	authed("PUT /assets/{id}", h.HandleUpdateAsset)
	staff("PUT /assets/{id}/valuation", h.HandleUpdateAssetValuation)
	admin("PUT /assets/{id}/status", h.HandleUpdateAssetStatus)
	admin("DELETE /assets/{id}", h.HandleDeleteAsset)
	authed("POST /assets/{id}/attachments", h.HandleAddAssetAttachment)
	authed("DELETE /assets/{id}/attachments", h.HandleRemoveAssetAttachment)

	// valuations
	staff("POST /valuations", h.HandleRequestValuation)
	staff("GET /valuations", h.HandleListValuations)
	staff("GET /valuations/{id}", h.HandleGetValuation)
	staff("PUT /valuations/{id}", h.HandleUpdateValuation)
	staff("PUT /valuations/{id}/status", h.HandleUpdateValuationStatus)
	staff("POST /valuations/{id}/complete-market", h.HandleCompleteMarketValuation)
	staff("POST /valuations/{id}/complete-final", h.HandleCompleteFinalValuation)

	// applications
	authed("POST /applications", h.HandleCreateApplication)
	authed("GET /applications", h.HandleListApplications)
	authed("GET /applications/{id}", h.HandleGetApplication)
	authed("PUT /applications/{id}", h.HandleUpdateApplication)
	authed("POST /applications/{id}/submit", h.HandleSubmitApplication)
	staff("POST /applications/{id}/debtor-check", h.HandleApplicationDebtorCheck)
	authed("PUT /applications/{id}/status", h.HandleUpdateApplicationStatus)
	authed("POST /applications/{id}/attachments", h.HandleAddApplicationAttachment)
	authed("DELETE /applications/{id}/attachments", h.HandleRemoveApplicationAttachment)

	// loans
	staff("POST /loans", h.HandleCreateLoan)
	authed("GET /loans", h.HandleListLoans)
	staff("GET /loans/stats", h.HandleLoanStats)
	authed("GET /loans/{id}", h.HandleGetLoan)
	staff("PUT /loans/{id}", h.HandleUpdateLoan)
	staff("PUT /loans/{id}/status", h.HandleUpdateLoanStatus)
	authed("GET /loans/{id}/charges", h.HandleLoanCharges)
	staff("POST /loans/{id}/payment", h.HandleRecordLoanPayment)
	authed("GET /loans/{id}/payments", h.HandleLoanPayments)

	// loan terms
	staff("POST /loan-terms", h.HandleCreateLoanTerm)
	staff("POST /loan-terms/{id}/approve", h.HandleApproveLoanTerm)
	staff("DELETE /loan-terms/{id}", h.HandleDeleteLoanTerm)
	authed("GET /loan-terms/loan/{loanId}/current", h.HandleCurrentLoanTerm)
	authed("GET /loan-terms/loan/{loanId}/timeline", h.HandleLoanTermTimeline)
	authed("GET /loan-terms/loan/{loanId}/next-term", h.HandleNextLoanTerm)
	staff("POST /loan-terms/loan/{loanId}/renew", h.HandleRenewLoan)

	// auctions
	staff("POST /auctions", h.HandleCreateAuction)
	open("GET /auctions", h.HandleListAuctions)
	open("GET /auctions/live", h.HandleLiveAuctions)
	open("GET /auctions/{id}", h.HandleGetAuction)
	staff("PUT /auctions/{id}", h.HandleUpdateAuction)
	admin("DELETE /auctions/{id}", h.HandleDeleteAuction)
	admin("PUT /auctions/{id}/status", h.HandleUpdateAuctionStatus)
	authed("POST /auctions/{id}/bid", h.HandlePlaceBid)
	open("GET /auctions/{id}/bids", h.HandleAuctionBids)
	authed("POST /auctions/{id}/bids/{bidId}/dispute", h.HandleRaiseDispute)
	staff("PUT /auctions/{id}/bids/{bidId}/dispute", h.HandleReviewDispute)

	// bid payments
	open("GET /bid-payments/methods", h.HandlePaymentMethods)
	open("POST /bid-payments/webhook/paynow", h.HandlePaynowWebhook)
	authed("POST /bid-payments", h.HandleCreateBidPayment)
	authed("GET /bid-payments", h.HandleListBidPayments)
	authed("GET /bid-payments/{id}", h.HandleGetBidPayment)
	authed("GET /bid-payments/{id}/check-status", h.HandleCheckBidPaymentStatus)
	admin("POST /bid-payments/{id}/refund", h.HandleRefundBidPayment)
	admin("PUT /bid-payments/{id}/status", h.HandleUpdateBidPaymentStatus)

	// audit
	audit("GET /audit-logs", h.HandleListAuditLogs)
	audit("GET /audit-logs/stats", h.HandleAuditStats)
	audit("GET /audit-logs/export", h.HandleExportAuditLogs)
	audit("GET /audit-logs/entity/{type}/{id}", h.HandleAuditLogsByEntity)
	audit("GET /audit-logs/user/{id}", h.HandleAuditLogsByUser)
	audit("GET /audit-logs/{id}", h.HandleGetAuditLog)

	return mid.LogAccess(mid.RecoverPanic(mid.Authenticate(mux)))
}

// withPrefix turns "GET /assets" into "GET /api/v1/assets".
func withPrefix(pattern string) string {
	method, path, ok := strings.Cut(pattern, " ")
	if !ok {
		return apiPrefix + pattern
	}
	return method + " " + apiPrefix + path
}
