// Package flow implements the second-factor challenge flow: the begin step,
// the resume step, and the aggregation of server challenges into the
// attributes the login form presents.
package flow

import (
	"strings"

	"github.com/PlusaN/keycloak-provider/internal/privacyidea"
)

// Token type tags presented to the UI.
const (
	TokenTypePush = "push"
	TokenTypeOTP  = "otp"
)

// Default prompts when no challenge of the category is active.
const (
	DefaultPushMessage = "Please confirm the authentication on your mobile device!"
	DefaultOTPMessage  = "Please enter your One-Time-Password!"
)

// Kind classifies a server challenge type string.
type Kind int

const (
	KindPush Kind = iota
	KindHOTP
	KindTOTP
	// KindOther covers any type the server may add later. Excluded from both
	// prompt categories, never an error.
	KindOther
)

// KindOf matches the server's free-form type string against the known
// literals. Case-sensitive.
func KindOf(t string) Kind {
	switch t {
	case "push":
		return KindPush
	case "hotp":
		return KindHOTP
	case "totp":
		return KindTOTP
	default:
		return KindOther
	}
}

// Summary is what one challenge batch means for the UI.
type Summary struct {
	PushMessage      string
	OTPMessage       string
	PushTokenPresent bool
	// OTPTokenPresent is always true: an OTP input is offered as a fallback
	// even during a push challenge.
	OTPTokenPresent bool
	// TokenType is the UI variant to present first: push iff a push
	// challenge is in the batch, otherwise otp.
	TokenType string
}

// Aggregate folds a challenge batch into a Summary. Pure function.
//
// Messages of the same category are joined with ", " in batch order, no
// trailing separator. An empty category keeps its default message.
func Aggregate(challenges []privacyidea.Challenge) Summary {
	var push, otp []string
	for _, c := range challenges {
		switch KindOf(c.Type) {
		case KindPush:
			push = append(push, c.Message)
		case KindHOTP, KindTOTP:
			otp = append(otp, c.Message)
		}
	}

	s := Summary{
		PushMessage:      DefaultPushMessage,
		OTPMessage:       DefaultOTPMessage,
		PushTokenPresent: len(push) > 0,
		OTPTokenPresent:  true,
		TokenType:        TokenTypeOTP,
	}
	if len(push) > 0 {
		s.PushMessage = strings.Join(push, ", ")
		s.TokenType = TokenTypePush
	}
	if len(otp) > 0 {
		s.OTPMessage = strings.Join(otp, ", ")
	}
	return s
}

// firstPushMessage returns the message of the first push challenge in the
// batch, if any.
func firstPushMessage(challenges []privacyidea.Challenge) (string, bool) {
	for _, c := range challenges {
		if KindOf(c.Type) == KindPush {
			return c.Message, true
		}
	}
	return "", false
}
