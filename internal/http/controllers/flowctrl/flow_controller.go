// Package flowctrl contiene los controllers del flujo de segundo factor.
package flowctrl

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/PlusaN/keycloak-provider/internal/assertion"
	"github.com/PlusaN/keycloak-provider/internal/flow"
	dto "github.com/PlusaN/keycloak-provider/internal/http/dto/flow"
	httperrors "github.com/PlusaN/keycloak-provider/internal/http/errors"
	"github.com/PlusaN/keycloak-provider/internal/http/middlewares"
	"github.com/PlusaN/keycloak-provider/internal/observability/logger"
	"github.com/PlusaN/keycloak-provider/internal/session"
	"go.uber.org/zap"
)

const (
	maxBodySize     = 64 * 1024 // 64KB
	contentTypeJSON = "application/json; charset=utf-8"
)

// FlowController maneja los endpoints begin/action/discard del flujo.
type FlowController struct {
	flow       *flow.Controller
	assertions *assertion.Issuer
}

// NewFlowController crea un nuevo controller del flujo.
func NewFlowController(f *flow.Controller, issuer *assertion.Issuer) *FlowController {
	return &FlowController{flow: f, assertions: issuer}
}

// Begin maneja POST /v1/flow/begin
func (c *FlowController) Begin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("FlowController.Begin"))

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req dto.BeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON)
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("username es obligatorio"))
		return
	}

	sessionID := middlewares.GetSessionID(ctx)

	result, err := c.flow.Begin(ctx, sessionID, req.Username, req.Groups)
	if err != nil {
		log.Error("begin step failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrFlowFailed)
		return
	}

	c.writeResult(w, log, sessionID, req.Username, result)
}

// Action maneja POST /v1/flow/action
func (c *FlowController) Action(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("FlowController.Action"))

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	var req dto.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httperrors.WriteError(w, httperrors.ErrInvalidJSON)
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		httperrors.WriteError(w, httperrors.ErrMissingFields.WithDetail("username es obligatorio"))
		return
	}

	sessionID := middlewares.GetSessionID(ctx)

	result, err := c.flow.Resume(ctx, sessionID, req.Username, formData(req))
	if err != nil {
		if session.IsNotFound(err) {
			httperrors.WriteError(w, httperrors.ErrBadRequest.WithDetail("sesión de autenticación desconocida o expirada"))
			return
		}
		log.Error("action step failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrFlowFailed)
		return
	}

	c.writeResult(w, log, sessionID, req.Username, result)
}

// Discard maneja DELETE /v1/flow
func (c *FlowController) Discard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("FlowController.Discard"))

	sessionID := middlewares.GetSessionID(ctx)
	if err := c.flow.Discard(ctx, sessionID); err != nil {
		log.Error("discard failed", logger.Err(err))
		httperrors.WriteError(w, httperrors.ErrInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeResult serializa un resultado del flujo. En éxito adjunta la aserción
// firmada que el host verifica para completar su propio flujo.
func (c *FlowController) writeResult(w http.ResponseWriter, log *zap.Logger, sessionID, username string, result *flow.Result) {
	resp := dto.FlowResponse{
		Status:    string(result.Status),
		SessionID: sessionID,
	}

	switch result.Status {
	case flow.StatusSuccess:
		signed, err := c.assertions.Issue(username)
		if err != nil {
			log.Error("assertion signing failed", logger.Err(err))
			httperrors.WriteError(w, httperrors.ErrInternalServerError)
			return
		}
		resp.Assertion = signed

	case flow.StatusChallenge:
		a := result.Attributes
		resp.Attributes = &dto.Attributes{
			PollIntervalSeconds: int(a.PollInterval.Seconds()),
			TokenEnrollmentQR:   a.TokenEnrollmentQR,
			TokenType:           a.TokenType,
			PushTokenPresent:    a.PushTokenPresent,
			OTPTokenPresent:     a.OTPTokenPresent,
			PushMessage:         a.PushMessage,
			OTPMessage:          a.OTPMessage,
			Error:               a.Error,
		}
	}

	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// formData traduce el request del form a los datos del flujo. Los marcadores
// booleanos viajan como strings "true"/"false"; cancel aborta por mera
// presencia del campo.
func formData(req dto.ActionRequest) flow.FormData {
	return flow.FormData{
		Cancel:            req.Cancel != nil,
		TokenEnrollmentQR: req.TokenEnrollmentQR,
		TokenType:         req.TokenType,
		PushTokenPresent:  req.PushTokenPresent == "true",
		OTPTokenPresent:   req.OTPTokenPresent == "true",
		PushMessage:       req.PushMessage,
		OTPMessage:        req.OTPMessage,
		TokenTypeChanged:  req.TokenTypeChanged == "true",
		OTP:               req.OTP,
	}
}
