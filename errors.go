package nextpay

import (
	"errors"
	"fmt"
)

// Sentinel failure kinds, one per class of gateway outcome. Match them with
// errors.Is; the concrete *GatewayError carries the raw response code.
var (
	ErrInvalidCallbackURI  = errors.New("nextpay: invalid callback_uri")
	ErrInvalidToken        = errors.New("nextpay: invalid token")
	ErrPurchaseDeclined    = errors.New("nextpay: purchase declined")
	ErrPurchaseCanceled    = errors.New("nextpay: purchase canceled")
	ErrInvalidPrice        = errors.New("nextpay: invalid price")
	ErrPurchaseAlreadyMade = errors.New("nextpay: purchase already made")
	ErrInvalidTransID      = errors.New("nextpay: invalid trans_id")
	ErrRefundFailed        = errors.New("nextpay: refund failed")
	ErrNotEnoughBalance    = errors.New("nextpay: not enough balance")
	ErrUnhandledCode       = errors.New("nextpay: unhandled gateway code")

	// ErrInvalidExtensionKey is a local validation failure; it is raised
	// before any request leaves the client.
	ErrInvalidExtensionKey = errors.New("nextpay: invalid extension key")
)

// GatewayError is a classified non-success response from the gateway.
type GatewayError struct {
	// Kind is one of the sentinel errors above.
	Kind error
	// Code is the raw signed integer from the response body.
	Code int64
	// Message describes the outcome in the gateway's own terms.
	Message string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Unwrap exposes the sentinel kind to errors.Is.
func (e *GatewayError) Unwrap() error {
	return e.Kind
}

func gatewayErr(kind error, code int64, message string) *GatewayError {
	return &GatewayError{Kind: kind, Code: code, Message: message}
}

// ExtensionKeyError reports a purchase extension field outside the accepted
// set. No network request is made when it is returned.
type ExtensionKeyError struct {
	Key string
}

func (e *ExtensionKeyError) Error() string {
	return fmt.Sprintf("key %q is invalid for NextPay.org", e.Key)
}

func (e *ExtensionKeyError) Unwrap() error {
	return ErrInvalidExtensionKey
}
