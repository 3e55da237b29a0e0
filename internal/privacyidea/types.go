// Package privacyidea implements the HTTP client for a privacyIDEA-compatible
// MFA server: challenge triggering, OTP validation, push transaction polling,
// token enumeration and token rollout.
package privacyidea

import "encoding/json"

// Challenge is one server-issued challenge descriptor. The type string comes
// from the server as-is; unrecognized values are kept and classified by the
// flow layer, never rejected here.
type Challenge struct {
	Serial        string `json:"serial"`
	Type          string `json:"type"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id"`
}

// Response is the decoded outcome of a trigger or validate call.
type Response struct {
	// Value reports whether the authentication succeeded.
	Value bool

	// Status reports whether the server processed the request at all.
	Status bool

	// Message is the server's top-level prompt/result text.
	Message string

	// TransactionID correlates the multi-step challenge. Empty when the call
	// created no challenge.
	TransactionID string

	// MultiChallenge holds every challenge raised by this call.
	MultiChallenge []Challenge
}

// TriggeredTokenTypes lists the distinct challenge types in MultiChallenge.
func (r *Response) TriggeredTokenTypes() []string {
	seen := make(map[string]bool, len(r.MultiChallenge))
	var out []string
	for _, c := range r.MultiChallenge {
		if !seen[c.Type] {
			seen[c.Type] = true
			out = append(out, c.Type)
		}
	}
	return out
}

// TokenInfo describes one token already provisioned for a user.
type TokenInfo struct {
	Serial      string `json:"serial"`
	Type        string `json:"tokentype"`
	Active      bool   `json:"active"`
	Description string `json:"description"`
}

// GoogleURL is the enrollment QR block of a rollout (img is a data URL).
type GoogleURL struct {
	Description string `json:"description"`
	Img         string `json:"img"`
	Value       string `json:"value"`
}

// RolloutInfo is the result of provisioning a new token.
type RolloutInfo struct {
	Serial    string
	GoogleURL GoogleURL
}

// --- wire envelope ---

type apiEnvelope struct {
	Result struct {
		Status bool            `json:"status"`
		Value  json.RawMessage `json:"value"`
		Error  struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"result"`
	Detail struct {
		Message        string      `json:"message"`
		TransactionID  string      `json:"transaction_id"`
		TransactionIDs []string    `json:"transaction_ids"`
		MultiChallenge []Challenge `json:"multi_challenge"`
		Serial         string      `json:"serial"`
		GoogleURL      GoogleURL   `json:"googleurl"`
	} `json:"detail"`
}

type authValue struct {
	Token string `json:"token"`
}

type tokenListValue struct {
	Tokens []TokenInfo `json:"tokens"`
	Count  int         `json:"count"`
}
