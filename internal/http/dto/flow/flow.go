// Package flow contains the request/response DTOs of the flow endpoints.
package flow

// BeginRequest starts the second-factor flow for a user that already passed
// the primary credential check. The host supplies identity and memberships.
type BeginRequest struct {
	Username string   `json:"username"`
	Groups   []string `json:"groups"`
}

// ActionRequest is the submitted login form. Field semantics mirror the form
// fields the login template posts:
//
//   - boolean-ish fields travel as the strings "true"/"false"
//   - cancel aborts the flow by mere presence, whatever its value
//   - push_message/otp_message are pointers so an omitted field (fall back to
//     the default prompt) is distinguishable from an empty one (keep empty)
type ActionRequest struct {
	Username          string  `json:"username"`
	Cancel            *string `json:"cancel,omitempty"`
	TokenEnrollmentQR string  `json:"token_enrollment_qr"`
	TokenType         string  `json:"token_type"`
	PushTokenPresent  string  `json:"push_token_present"`
	OTPTokenPresent   string  `json:"otp_token_present"`
	PushMessage       *string `json:"push_message,omitempty"`
	OTPMessage        *string `json:"otp_message,omitempty"`
	TokenTypeChanged  string  `json:"token_type_changed"`
	OTP               string  `json:"otp"`
}

// Attributes are the rendering attributes for the host's login template.
type Attributes struct {
	PollIntervalSeconds int    `json:"poll_interval_seconds"`
	TokenEnrollmentQR   string `json:"token_enrollment_qr"`
	TokenType           string `json:"token_type"`
	PushTokenPresent    bool   `json:"push_token_present"`
	OTPTokenPresent     bool   `json:"otp_token_present"`
	PushMessage         string `json:"push_message"`
	OTPMessage          string `json:"otp_message"`
	Error               string `json:"error,omitempty"`
}

// FlowResponse is the outcome of a begin or action step.
type FlowResponse struct {
	Status     string      `json:"status"` // success | challenge | cancelled
	SessionID  string      `json:"session_id"`
	Assertion  string      `json:"assertion,omitempty"`
	Attributes *Attributes `json:"attributes,omitempty"`
}
