package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PlusaN/keycloak-provider/internal/assertion"
	"github.com/PlusaN/keycloak-provider/internal/flow"
	"github.com/PlusaN/keycloak-provider/internal/http/controllers/flowctrl"
	"github.com/PlusaN/keycloak-provider/internal/http/middlewares"
	"github.com/PlusaN/keycloak-provider/internal/privacyidea"
	"github.com/PlusaN/keycloak-provider/internal/session"
)

// scriptedClient drives the flow through fixed remote responses.
type scriptedClient struct {
	trigger      *privacyidea.Response
	validate     *privacyidea.Response
	pollResolved bool
}

func (s *scriptedClient) TriggerChallenges(ctx context.Context, username string) (*privacyidea.Response, error) {
	if s.trigger == nil {
		return &privacyidea.Response{}, nil
	}
	return s.trigger, nil
}

func (s *scriptedClient) ValidateCheck(ctx context.Context, username, pass, transactionID string) (*privacyidea.Response, error) {
	if s.validate == nil {
		return &privacyidea.Response{}, nil
	}
	return s.validate, nil
}

func (s *scriptedClient) PollTransaction(ctx context.Context, transactionID string) (bool, error) {
	return s.pollResolved, nil
}

func (s *scriptedClient) GetTokenInfo(ctx context.Context, username string) ([]privacyidea.TokenInfo, error) {
	return nil, nil
}

func (s *scriptedClient) TokenRollout(ctx context.Context, username, tokenType string) (*privacyidea.RolloutInfo, error) {
	return nil, nil
}

func (s *scriptedClient) StopPolling() {}

func newTestRouter(t *testing.T, client *scriptedClient) http.Handler {
	t.Helper()

	sessions := session.NewMemory(time.Minute)
	ctrl := flow.NewController(flow.Deps{
		Client:           client,
		Sessions:         sessions,
		Schedule:         []time.Duration{5 * time.Second, time.Second},
		TriggerChallenge: true,
	})
	t.Cleanup(ctrl.Close)

	issuer, err := assertion.NewIssuer("test-secret", time.Minute)
	require.NoError(t, err)

	return New(Deps{
		Flow: flowctrl.NewFlowController(ctrl, issuer),
		Ready: func(r *http.Request) error {
			return sessions.Ping(r.Context())
		},
	})
}

type flowResponse struct {
	Status     string `json:"status"`
	SessionID  string `json:"session_id"`
	Assertion  string `json:"assertion"`
	Attributes *struct {
		PollIntervalSeconds int    `json:"poll_interval_seconds"`
		TokenType           string `json:"token_type"`
		PushTokenPresent    bool   `json:"push_token_present"`
		OTPTokenPresent     bool   `json:"otp_token_present"`
		PushMessage         string `json:"push_message"`
		OTPMessage          string `json:"otp_message"`
		Error               string `json:"error"`
	} `json:"attributes"`
}

func doJSON(t *testing.T, h http.Handler, method, path, sessionID string, body any) (*httptest.ResponseRecorder, flowResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(middlewares.HeaderAuthSessionID, sessionID)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out flowResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestFlow_BeginIssuesSessionAndChallenge(t *testing.T) {
	h := newTestRouter(t, &scriptedClient{
		trigger: &privacyidea.Response{
			TransactionID: "tx1",
			MultiChallenge: []privacyidea.Challenge{
				{Type: "push", Message: "confirm on phone"},
			},
		},
	})

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/flow/begin", "", map[string]any{
		"username": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "challenge", resp.Status)
	require.NotEmpty(t, resp.SessionID)
	require.Equal(t, resp.SessionID, rec.Header().Get(middlewares.HeaderAuthSessionID))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	require.NotNil(t, resp.Attributes)
	require.Equal(t, "push", resp.Attributes.TokenType)
	require.True(t, resp.Attributes.PushTokenPresent)
	require.Equal(t, "confirm on phone", resp.Attributes.PushMessage)
	require.Equal(t, 5, resp.Attributes.PollIntervalSeconds)
}

func TestFlow_PushRoundTripToSuccess(t *testing.T) {
	client := &scriptedClient{
		trigger: &privacyidea.Response{
			TransactionID: "tx1",
			MultiChallenge: []privacyidea.Challenge{
				{Type: "push", Message: "confirm on phone"},
			},
		},
	}
	h := newTestRouter(t, client)

	_, begin := doJSON(t, h, http.MethodPost, "/v1/flow/begin", "", map[string]any{
		"username": "alice",
	})
	sid := begin.SessionID

	// Push not yet confirmed: re-challenge with the failure message.
	rec, resp := doJSON(t, h, http.MethodPost, "/v1/flow/action", sid, map[string]any{
		"username":           "alice",
		"token_type":         "push",
		"push_token_present": "true",
		"otp_token_present":  "true",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "challenge", resp.Status)
	require.Equal(t, "Authentication not verified yet.", resp.Attributes.Error)
	require.Equal(t, 1, resp.Attributes.PollIntervalSeconds)

	// User confirms on the phone.
	client.pollResolved = true
	client.validate = &privacyidea.Response{Value: true}

	rec, resp = doJSON(t, h, http.MethodPost, "/v1/flow/action", sid, map[string]any{
		"username":   "alice",
		"token_type": "push",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", resp.Status)
	require.NotEmpty(t, resp.Assertion)

	issuer, err := assertion.NewIssuer("test-secret", time.Minute)
	require.NoError(t, err)
	sub, err := issuer.Verify(resp.Assertion)
	require.NoError(t, err)
	require.Equal(t, "alice", sub)
}

func TestFlow_BeginReusesSuppliedSessionID(t *testing.T) {
	h := newTestRouter(t, &scriptedClient{})

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/flow/begin", "host-session-1", map[string]any{
		"username": "alice",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "host-session-1", resp.SessionID)
	require.Equal(t, "host-session-1", rec.Header().Get(middlewares.HeaderAuthSessionID))
}

func TestFlow_ExcludedUserGetsAssertionImmediately(t *testing.T) {
	sessions := session.NewMemory(time.Minute)
	ctrl := flow.NewController(flow.Deps{
		Client:           &scriptedClient{},
		Sessions:         sessions,
		Schedule:         []time.Duration{time.Second},
		ExcludedGroups:   []string{"no-mfa"},
		TriggerChallenge: true,
	})
	t.Cleanup(ctrl.Close)

	h := New(Deps{Flow: flowctrl.NewFlowController(ctrl, mustIssuer(t))})

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/flow/begin", "", map[string]any{
		"username": "bob",
		"groups":   []string{"staff", "no-mfa"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", resp.Status)
	require.Nil(t, resp.Attributes)

	sub, err := mustIssuer(t).Verify(resp.Assertion)
	require.NoError(t, err)
	require.Equal(t, "bob", sub)
}

func TestFlow_CancelEndsTheFlow(t *testing.T) {
	h := newTestRouter(t, &scriptedClient{})

	_, begin := doJSON(t, h, http.MethodPost, "/v1/flow/begin", "", map[string]any{
		"username": "alice",
	})

	rec, resp := doJSON(t, h, http.MethodPost, "/v1/flow/action", begin.SessionID, map[string]any{
		"username": "alice",
		"cancel":   "1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cancelled", resp.Status)
	require.Empty(t, resp.Assertion)
}

func TestFlow_ActionRequiresSessionHeader(t *testing.T) {
	h := newTestRouter(t, &scriptedClient{})

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/flow/action", "", map[string]any{
		"username":   "alice",
		"token_type": "otp",
		"otp":        "123456",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "SESSION_REQUIRED")
}

func TestFlow_ActionOnUnknownSession(t *testing.T) {
	h := newTestRouter(t, &scriptedClient{})

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/flow/action", "never-began", map[string]any{
		"username":   "alice",
		"token_type": "otp",
		"otp":        "123456",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFlow_BeginValidation(t *testing.T) {
	h := newTestRouter(t, &scriptedClient{})

	rec, _ := doJSON(t, h, http.MethodPost, "/v1/flow/begin", "", map[string]any{
		"username": "   ",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/flow/begin", bytes.NewBufferString("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "INVALID_JSON")
}

func TestFlow_Discard(t *testing.T) {
	h := newTestRouter(t, &scriptedClient{})

	_, begin := doJSON(t, h, http.MethodPost, "/v1/flow/begin", "", map[string]any{
		"username": "alice",
	})

	req := httptest.NewRequest(http.MethodDelete, "/v1/flow", nil)
	req.Header.Set(middlewares.HeaderAuthSessionID, begin.SessionID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	h := newTestRouter(t, &scriptedClient{})

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestReadyFailureIs503(t *testing.T) {
	h := New(Deps{
		Flow: flowctrl.NewFlowController(
			flow.NewController(flow.Deps{Client: &scriptedClient{}, Sessions: session.NewMemory(time.Minute)}),
			mustIssuer(t),
		),
		Ready: func(*http.Request) error { return fmt.Errorf("redis down") },
	})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestRouter(t, &scriptedClient{})

	req := httptest.NewRequest(http.MethodGet, "/v1/flow/begin", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func mustIssuer(t *testing.T) *assertion.Issuer {
	t.Helper()
	i, err := assertion.NewIssuer("test-secret", time.Minute)
	require.NoError(t, err)
	return i
}
