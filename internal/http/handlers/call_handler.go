// Call signaling HTTP handlers.
//
// This file exposes the REST endpoints for call sessions:
//   - POST   /calls              (initiate)
//   - POST   /calls/{id}/accept
//   - POST   /calls/{id}/reject
//   - POST   /calls/{id}/end
//   - GET    /calls/{id}         (pending view for cold-start notification taps)
//   - GET    /calls              (history, paginated)
//   - PUT    /users/{id}         (directory sync)
//   - PUT    /users/{id}/device  (push device registration)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. Service errors are mapped by
// kind (validation, state guard, dependency, not found), never by matching
// error text.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hivedesk/go-call-backend/internal/domain"
	"github.com/hivedesk/go-call-backend/internal/repo"
	"github.com/hivedesk/go-call-backend/internal/services"
	"github.com/hivedesk/go-call-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// CallService defines the signaling operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type CallService interface {
	// Initiate starts a call and returns the caller's media grant.
	Initiate(ctx context.Context, callerID, calleeID string) (*services.CallGrant, error)
	// Accept answers a pending call and returns the callee's media grant.
	Accept(ctx context.Context, callID, actorID string) (*services.CallGrant, error)
	// Reject declines a pending call.
	Reject(ctx context.Context, callID, actorID string) error
	// End hangs up a pending or ongoing call.
	End(ctx context.Context, callID, actorID string) error
	// Pending returns the callee-only view of a still-ringing call.
	Pending(ctx context.Context, callID, actorID string) (*services.IncomingCall, error)
	// History returns a page of the user's calls and the total count.
	History(ctx context.Context, userID string, page, pageSize int) ([]services.HistoryEntry, int64, error)
}

// UserService defines the directory operations consumed by HTTP handlers.
type UserService interface {
	// Sync creates or refreshes a directory entry.
	Sync(ctx context.Context, id, displayName, avatarURL string) (*domain.User, error)
	// RegisterDevice stores a user's push device token.
	RegisterDevice(ctx context.Context, userID, deviceToken string) error
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for call signaling and the user
// directory. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	callSvc CallService
	userSvc UserService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(callSvc CallService, userSvc UserService) *Handlers {
	return &Handlers{callSvc: callSvc, userSvc: userSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware) or, failing that, from the "X-User-ID" demo header. It returns
// "" when no identity is present; callers must reject such requests.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		return strings.TrimSpace(c.GetHeader("X-User-ID"))
	}
	return ""
}

// requireUser resolves the request identity or writes a 401 and returns "".
func requireUser(c *gin.Context) string {
	uid := userID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing user identity")
	}
	return uid
}

// failService translates a service error into the HTTP error taxonomy.
// fallback is used for unexpected (unclassified) errors.
func failService(c *gin.Context, err error, fallbackCode string) {
	switch services.Classify(err) {
	case services.KindValidation:
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case services.KindStateGuard:
		fail(c, http.StatusUnprocessableEntity, ErrCodeStateConflict, err.Error())
	case services.KindNotFound:
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case services.KindDependency:
		fail(c, http.StatusInternalServerError, ErrCodeTokenIssuance, "media token issuance failed")
	default:
		fail(c, http.StatusInternalServerError, fallbackCode, "internal server error")
	}
}

//
// DTOs
//

// InitiateCallRequest is the JSON payload for starting a call.
type InitiateCallRequest struct {
	// CalleeID identifies the user being called.
	CalleeID string `json:"callee_id" binding:"required" example:"user456"`
}

// CallGrantResponse is returned by initiate and accept: identifiers for the
// session plus the requester's channel-scoped media token.
type CallGrantResponse struct {
	CallID      string   `json:"call_id"`
	ChannelName string   `json:"channel_name"`
	Token       string   `json:"token"`
	Call        CallView `json:"call"`
}

// CallView is the call resource shape embedded in grant responses.
type CallView struct {
	ID          string            `json:"id"`
	ChannelName string            `json:"channel_name"`
	Status      domain.CallStatus `json:"status"`
	Caller      domain.Summary    `json:"caller"`
	Callee      domain.Summary    `json:"callee"`
}

// MessageResponse is the minimal acknowledgment body for reject/end.
type MessageResponse struct {
	Message string `json:"message" example:"call ended"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// CallHistoryResponse wraps a page of call history and pagination information.
type CallHistoryResponse struct {
	Calls      []services.HistoryEntry `json:"calls"`
	Pagination Pagination              `json:"pagination"`
}

// SyncUserRequest is the JSON payload for directory sync.
type SyncUserRequest struct {
	DisplayName string `json:"display_name" binding:"required,min=1,max=255" example:"Ada Lovelace"`
	AvatarURL   string `json:"avatar_url" example:"https://cdn.example.com/a/ada.png"`
}

// RegisterDeviceRequest is the JSON payload for push device registration.
type RegisterDeviceRequest struct {
	DeviceToken string `json:"device_token" binding:"required" example:"fcm:dGhpc2lzbm90YXJlYWx0b2tlbg"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize). The hard cap keeps a
// single history request from dragging the whole table.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 50
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// grantResponse projects a service grant into the wire shape.
func grantResponse(g *services.CallGrant) CallGrantResponse {
	return CallGrantResponse{
		CallID:      g.Call.ID,
		ChannelName: g.ChannelName,
		Token:       g.Token,
		Call: CallView{
			ID:          g.Call.ID,
			ChannelName: g.Call.ChannelName,
			Status:      g.Call.Status,
			Caller:      g.Caller,
			Callee:      g.Callee,
		},
	}
}

//
// Handlers
//

// InitiateCall godoc
// @ID          initiateCall
// @Summary     Start a call
// @Description Creates a pending call to the callee, returns the caller's media grant, and notifies the callee over realtime and push.
// @Tags        Calls
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller user ID (demo header)"  example(user123)
// @Param       body       body    handlers.InitiateCallRequest  true  "Initiate payload"
//
// @Success     201  {object}  handlers.CallGrantResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     422  {object}  handlers.ErrorResponse  "Self-call or unknown callee"
// @Failure     500  {object}  handlers.ErrorResponse  "Token issuer failure"
// @Router      /calls [post]
func (h *Handlers) InitiateCall(c *gin.Context) {
	uid := requireUser(c)
	if uid == "" {
		return
	}

	var req InitiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.CalleeID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "callee_id is required")
		return
	}

	grant, err := h.callSvc.Initiate(c.Request.Context(), uid, strings.TrimSpace(req.CalleeID))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusCreated, grantResponse(grant))
}

// AcceptCall godoc
// @ID          acceptCall
// @Summary     Accept a pending call
// @Description Transitions the call to ONGOING and returns the callee's media grant. The transition is kept even if token issuance fails afterwards.
// @Tags        Calls
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Callee user ID (demo header)"  example(user456)
// @Param       id         path    string  true  "Call ID (UUID)"                format(uuid)
//
// @Success     200  {object}  handlers.CallGrantResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse  "Call not found"
// @Failure     422  {object}  handlers.ErrorResponse  "Not the callee or call not pending"
// @Failure     500  {object}  handlers.ErrorResponse  "Token issuer failure"
// @Router      /calls/{id}/accept [post]
func (h *Handlers) AcceptCall(c *gin.Context) {
	uid := requireUser(c)
	if uid == "" {
		return
	}
	callID := c.Param("id")
	if _, err := uuid.Parse(callID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "call id must be a UUID")
		return
	}

	grant, err := h.callSvc.Accept(c.Request.Context(), callID, uid)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, grantResponse(grant))
}

// RejectCall godoc
// @ID          rejectCall
// @Summary     Reject a pending call
// @Description Transitions the call to ENDED without connecting and notifies the caller.
// @Tags        Calls
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Callee user ID (demo header)"  example(user456)
// @Param       id         path    string  true  "Call ID (UUID)"                format(uuid)
//
// @Success     200  {object}  handlers.MessageResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse  "Call not found"
// @Failure     422  {object}  handlers.ErrorResponse  "Not the callee or call not pending"
// @Router      /calls/{id}/reject [post]
func (h *Handlers) RejectCall(c *gin.Context) {
	uid := requireUser(c)
	if uid == "" {
		return
	}
	callID := c.Param("id")
	if _, err := uuid.Parse(callID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "call id must be a UUID")
		return
	}

	if err := h.callSvc.Reject(c.Request.Context(), callID, uid); err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: "call rejected"})
}

// EndCall godoc
// @ID          endCall
// @Summary     End a call
// @Description Transitions a pending or ongoing call to ENDED and notifies the other participant.
// @Tags        Calls
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Participant user ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Call ID (UUID)"                     format(uuid)
//
// @Success     200  {object}  handlers.MessageResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse  "Call not found"
// @Failure     422  {object}  handlers.ErrorResponse  "Not a participant or call not active"
// @Router      /calls/{id}/end [post]
func (h *Handlers) EndCall(c *gin.Context) {
	uid := requireUser(c)
	if uid == "" {
		return
	}
	callID := c.Param("id")
	if _, err := uuid.Parse(callID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "call id must be a UUID")
		return
	}

	if err := h.callSvc.End(c.Request.Context(), callID, uid); err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: "call ended"})
}

// ShowCall godoc
// @ID          showCall
// @Summary     Fetch a still-ringing call
// @Description Returns the caller summary and channel for a PENDING call, only to its callee. Used by clients that wake from a push notification. Any other combination yields 404.
// @Tags        Calls
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Callee user ID (demo header)"  example(user456)
// @Param       id         path    string  true  "Call ID (UUID)"                format(uuid)
//
// @Success     200  {object}  services.IncomingCall
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /calls/{id} [get]
func (h *Handlers) ShowCall(c *gin.Context) {
	uid := requireUser(c)
	if uid == "" {
		return
	}
	callID := c.Param("id")
	if _, err := uuid.Parse(callID); err != nil {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "call not found")
		return
	}

	incoming, err := h.callSvc.Pending(c.Request.Context(), callID, uid)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, incoming)
}

// CallHistory godoc
// @ID          callHistory
// @Summary     List call history (paginated)
// @Description Returns a page of calls in which the user participated, newest first, with participant summaries.
// @Tags        Calls
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID (demo header)"  example(user123)
// @Param       page       query   int     false "Page number"            minimum(1) default(1)
// @Param       page_size  query   int     false "Items per page"         minimum(1) maximum(50) default(20)
//
// @Success     200  {object}  handlers.CallHistoryResponse
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /calls [get]
func (h *Handlers) CallHistory(c *gin.Context) {
	uid := requireUser(c)
	if uid == "" {
		return
	}
	page, pageSize := clampPagination(c)

	entries, total, err := h.callSvc.History(c.Request.Context(), uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeHistoryFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, CallHistoryResponse{
		Calls: entries,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// SyncUser godoc
// @ID          syncUser
// @Summary     Sync a directory entry
// @Description Creates or refreshes the local directory entry for a user. Called by the surrounding platform, which owns identity.
// @Tags        Users
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "User ID"
// @Param       body  body  handlers.SyncUserRequest  true  "Profile payload"
//
// @Success     200  {object}  domain.User
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /users/{id} [put]
func (h *Handlers) SyncUser(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id is required")
		return
	}

	var req SyncUserRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.DisplayName) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "display_name required (1–255 chars)")
		return
	}

	u, err := h.userSvc.Sync(c.Request.Context(), id, req.DisplayName, req.AvatarURL)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeDirectorySync, err.Error())
		return
	}
	ok(c, http.StatusOK, u)
}

// RegisterDevice godoc
// @ID          registerDevice
// @Summary     Register a push device token
// @Description Stores the device token used for best-effort call notifications when the user is offline.
// @Tags        Users
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID (demo header)"  example(user456)
// @Param       id         path    string  true  "User ID"
// @Param       body       body    handlers.RegisterDeviceRequest  true  "Device payload"
//
// @Success     200  {object}  handlers.MessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /users/{id}/device [put]
func (h *Handlers) RegisterDevice(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "user id is required")
		return
	}

	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.DeviceToken) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "device_token is required")
		return
	}

	if err := h.userSvc.RegisterDevice(c.Request.Context(), id, req.DeviceToken); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: "device registered"})
}
