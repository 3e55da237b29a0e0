package flow

import (
	"context"
	"time"

	"github.com/PlusaN/keycloak-provider/internal/metrics"
	"github.com/PlusaN/keycloak-provider/internal/observability/logger"
	"github.com/PlusaN/keycloak-provider/internal/privacyidea"
	"github.com/PlusaN/keycloak-provider/internal/session"
	"go.uber.org/zap"
)

// Failure messages shown on a re-challenge, matching the login template texts.
const (
	msgPushNotVerified = "Authentication not verified yet."
	msgOTPFailed       = "Authentication failed."
)

// RemoteClient is the surface of the MFA server the flow needs.
type RemoteClient interface {
	TriggerChallenges(ctx context.Context, username string) (*privacyidea.Response, error)
	ValidateCheck(ctx context.Context, username, pass, transactionID string) (*privacyidea.Response, error)
	PollTransaction(ctx context.Context, transactionID string) (bool, error)
	GetTokenInfo(ctx context.Context, username string) ([]privacyidea.TokenInfo, error)
	TokenRollout(ctx context.Context, username, tokenType string) (*privacyidea.RolloutInfo, error)
	StopPolling()
}

// Status is the terminal or looping state a step ended in.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusChallenge Status = "challenge"
	StatusCancelled Status = "cancelled"
)

// Attributes are the form attributes the host's login template consumes.
type Attributes struct {
	PollInterval      time.Duration `json:"-"`
	TokenEnrollmentQR string        `json:"token_enrollment_qr"`
	TokenType         string        `json:"token_type"`
	PushTokenPresent  bool          `json:"push_token_present"`
	OTPTokenPresent   bool          `json:"otp_token_present"`
	PushMessage       string        `json:"push_message"`
	OTPMessage        string        `json:"otp_message"`
	// Error is the failure message for a re-challenge. Empty when the user
	// just switched token type or a new challenge was just triggered.
	Error string `json:"error,omitempty"`
}

// Result is the outcome of one begin or resume step.
type Result struct {
	Status     Status
	Attributes Attributes
}

// FormData is the submission of the login form at the resume step.
//
// The message fields are pointers: an absent field falls back to its default,
// a present-but-empty field does not. That distinction is what keeps prompt
// text stable across failed attempts.
type FormData struct {
	Cancel            bool
	TokenEnrollmentQR string
	TokenType         string
	PushTokenPresent  bool
	OTPTokenPresent   bool
	PushMessage       *string
	OTPMessage        *string
	TokenTypeChanged  bool
	OTP               string
}

// Deps contains the controller dependencies.
type Deps struct {
	Client   RemoteClient
	Sessions session.Store

	// Schedule is the polling-interval schedule, indexed by attempt counter.
	Schedule []time.Duration

	ExcludedGroups     []string
	TriggerChallenge   bool
	EnrollToken        bool
	EnrollingTokenType string
}

// Controller runs the begin/resume state machine. One instance serves all
// sessions; per-attempt state lives only in the session store.
type Controller struct {
	deps Deps
}

// NewController creates a Controller.
func NewController(deps Deps) *Controller {
	return &Controller{deps: deps}
}

// Excluded reports whether any of the user's groups is on the excluded list.
func (c *Controller) Excluded(groups []string) bool {
	for _, g := range groups {
		for _, ex := range c.deps.ExcludedGroups {
			if g == ex {
				return true
			}
		}
	}
	return false
}

// Begin runs the begin step: exclusion check, challenge triggering, optional
// token enrollment, and the initial challenge rendering.
//
// Remote errors are returned as-is; the caller maps them to the host's
// generic flow-error signaling. No retries here.
func (c *Controller) Begin(ctx context.Context, sessionID, username string, groups []string) (*Result, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("flow.begin"), logger.Username(username))

	if c.Excluded(groups) {
		log.Info("user in excluded group, skipping second factor")
		metrics.FlowBegin("excluded")
		return &Result{Status: StatusSuccess}, nil
	}

	summary := Summary{
		PushMessage:     DefaultPushMessage,
		OTPMessage:      DefaultOTPMessage,
		OTPTokenPresent: true,
		TokenType:       TokenTypeOTP,
	}
	transactionID := ""

	if c.deps.TriggerChallenge {
		resp, err := c.deps.Client.TriggerChallenges(ctx, username)
		if err != nil {
			metrics.FlowBegin("error")
			return nil, err
		}
		transactionID = resp.TransactionID
		if len(resp.MultiChallenge) > 0 {
			summary = Aggregate(resp.MultiChallenge)
		}
		for _, ch := range resp.MultiChallenge {
			metrics.ChallengeTriggered(ch.Type)
		}
	}

	enrollmentQR := ""
	if c.deps.EnrollToken {
		tokens, err := c.deps.Client.GetTokenInfo(ctx, username)
		if err != nil {
			metrics.FlowBegin("error")
			return nil, err
		}
		if len(tokens) == 0 {
			rollout, err := c.deps.Client.TokenRollout(ctx, username, c.deps.EnrollingTokenType)
			if err != nil {
				metrics.FlowBegin("error")
				return nil, err
			}
			enrollmentQR = rollout.GoogleURL.Img
			log.Info("enrolled new token", logger.String("type", c.deps.EnrollingTokenType))
		}
	}

	attempt := session.Attempt{Counter: 0, TransactionID: transactionID}
	if err := attempt.Save(ctx, c.deps.Sessions, sessionID); err != nil {
		metrics.FlowBegin("error")
		return nil, err
	}

	log.Debug("challenge rendered",
		logger.TokenType(summary.TokenType),
		logger.Bool("push_present", summary.PushTokenPresent),
		logger.TransactionID(transactionID),
	)
	metrics.FlowBegin("challenge")

	return &Result{
		Status: StatusChallenge,
		Attributes: Attributes{
			PollInterval:      c.interval(0),
			TokenEnrollmentQR: enrollmentQR,
			TokenType:         summary.TokenType,
			PushTokenPresent:  summary.PushTokenPresent,
			OTPTokenPresent:   summary.OTPTokenPresent,
			PushMessage:       summary.PushMessage,
			OTPMessage:        summary.OTPMessage,
		},
	}, nil
}

// Resume runs the resume step on a form submission: cancellation, poll or
// validate depending on the active token type, counter advance, and either a
// terminal success or the next re-challenge.
func (c *Controller) Resume(ctx context.Context, sessionID, username string, form FormData) (*Result, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("flow.resume"), logger.Username(username))

	if form.Cancel {
		log.Info("flow cancelled by user")
		_ = c.deps.Sessions.Discard(ctx, sessionID)
		metrics.FlowResume("cancelled")
		return &Result{Status: StatusCancelled}, nil
	}

	attempt, err := session.LoadAttempt(ctx, c.deps.Sessions, sessionID)
	if err != nil {
		metrics.FlowResume("error")
		return nil, err
	}

	// Carried prompt text; may be overwritten below if a new challenge is
	// triggered mid-flow.
	pushMessage := form.PushMessage
	otpMessage := form.OTPMessage
	pushPresent := form.PushTokenPresent

	// didTrigger suppresses the failure message when the response is really
	// a fresh prompt, not a failed attempt.
	didTrigger := false

	if form.TokenType == TokenTypePush {
		// A missing stored transaction id means "not verified yet", not an
		// error: skip the poll and fall through to the re-challenge.
		if attempt.TransactionID != "" {
			resolved, err := c.deps.Client.PollTransaction(ctx, attempt.TransactionID)
			if err != nil {
				metrics.FlowResume("error")
				return nil, err
			}
			if resolved {
				resp, err := c.deps.Client.ValidateCheck(ctx, username, "", attempt.TransactionID)
				if err != nil {
					metrics.FlowResume("error")
					return nil, err
				}
				if resp.Value {
					return c.succeed(ctx, sessionID, log)
				}
			}
		}
	} else {
		// The validate call deliberately omits the stored transaction id:
		// the user may be answering a fresh OTP prompt rather than the
		// transaction from begin.
		resp, err := c.deps.Client.ValidateCheck(ctx, username, form.OTP, "")
		if err != nil {
			metrics.FlowResume("error")
			return nil, err
		}
		if resp != nil {
			if len(resp.MultiChallenge) > 0 {
				// A new challenge was triggered: show its message and carry
				// its transaction id from here on.
				otpMessage = &resp.Message
				attempt.TransactionID = resp.TransactionID
				didTrigger = true

				if msg, ok := firstPushMessage(resp.MultiChallenge); ok {
					// The push UI is a different variant, set its message
					// explicitly.
					pushPresent = true
					pushMessage = &msg
				}
				for _, ch := range resp.MultiChallenge {
					metrics.ChallengeTriggered(ch.Type)
				}
				log.Info("new challenge triggered during validation",
					logger.TransactionID(resp.TransactionID))
			}
			if resp.Value {
				return c.succeed(ctx, sessionID, log)
			}
		}
	}

	attempt.Counter++
	if attempt.Counter >= len(c.deps.Schedule) {
		attempt.Counter = len(c.deps.Schedule) - 1
	}
	if err := attempt.Save(ctx, c.deps.Sessions, sessionID); err != nil {
		metrics.FlowResume("error")
		return nil, err
	}

	attrs := Attributes{
		PollInterval:      c.interval(attempt.Counter),
		TokenEnrollmentQR: form.TokenEnrollmentQR,
		TokenType:         form.TokenType,
		PushTokenPresent:  pushPresent,
		OTPTokenPresent:   form.OTPTokenPresent,
		PushMessage:       orDefault(pushMessage, DefaultPushMessage),
		OTPMessage:        orDefault(otpMessage, DefaultOTPMessage),
	}

	if !form.TokenTypeChanged && !didTrigger {
		if form.TokenType == TokenTypePush {
			attrs.Error = msgPushNotVerified
		} else {
			attrs.Error = msgOTPFailed
		}
	}

	metrics.FlowResume("challenge")
	return &Result{Status: StatusChallenge, Attributes: attrs}, nil
}

// Discard drops the per-attempt notes. Used when the host abandons the
// session and on the cancel path.
func (c *Controller) Discard(ctx context.Context, sessionID string) error {
	return c.deps.Sessions.Discard(ctx, sessionID)
}

// Close releases the remote client's polling resources. Safe on every exit
// path, idempotent.
func (c *Controller) Close() {
	c.deps.Client.StopPolling()
}

func (c *Controller) succeed(ctx context.Context, sessionID string, log *zap.Logger) (*Result, error) {
	log.Info("authentication successful")
	_ = c.deps.Sessions.Discard(ctx, sessionID)
	metrics.FlowResume("success")
	return &Result{Status: StatusSuccess}, nil
}

func (c *Controller) interval(idx int) time.Duration {
	if len(c.deps.Schedule) == 0 {
		return 0
	}
	if idx >= len(c.deps.Schedule) {
		idx = len(c.deps.Schedule) - 1
	}
	return c.deps.Schedule[idx]
}

func orDefault(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
