package nextpay

import "fmt"

// Gateway response codes. Each operation has its own closed vocabulary; a
// code outside the table maps to ErrUnhandledCode, never to success.
const (
	codePurchaseOK int64 = -1
	codeVerifyOK   int64 = 0
	codeRefundOK   int64 = -90
)

func classifyPurchase(code int64, token string) error {
	switch code {
	case -32:
		return gatewayErr(ErrInvalidCallbackURI, code, "callback_uri is invalid")
	case -73:
		return gatewayErr(ErrInvalidCallbackURI, code, "callback_uri has a server error or is too long")
	case -33, -35, -38, -39, -40, -47:
		return gatewayErr(ErrInvalidToken, code, fmt.Sprintf("token %s is invalid", token))
	}
	return unhandled(code)
}

func classifyVerify(code int64) error {
	switch code {
	case -2:
		return gatewayErr(ErrPurchaseDeclined, code, "purchase declined by user or bank")
	case -4:
		return gatewayErr(ErrPurchaseCanceled, code, "purchase canceled")
	case -24:
		return gatewayErr(ErrInvalidPrice, code, "entered price is invalid")
	case -25:
		return gatewayErr(ErrPurchaseAlreadyMade, code, "purchase is already finished and paid")
	case -27:
		return gatewayErr(ErrInvalidTransID, code, "trans_id is invalid")
	}
	return unhandled(code)
}

func classifyRefund(code int64) error {
	switch code {
	case -91, -92:
		return gatewayErr(ErrRefundFailed, code, "refund failed")
	case -93:
		return gatewayErr(ErrNotEnoughBalance, code, "not enough balance to refund")
	case -27:
		return gatewayErr(ErrInvalidTransID, code, "trans_id is invalid")
	}
	return unhandled(code)
}

func unhandled(code int64) error {
	return gatewayErr(ErrUnhandledCode, code, fmt.Sprintf("unhandled gateway code %d", code))
}
