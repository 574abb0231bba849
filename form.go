package nextpay

import (
	"net/url"
	"strings"
)

// Extensions carries the optional purchase fields. Only the keys listed in
// allowedExtensionKeys are accepted; anything else is rejected locally so a
// malformed request never reaches the gateway.
type Extensions map[string]string

// allowedExtensionKeys is the closed set of purchase extension fields the
// gateway understands, in wire order.
var allowedExtensionKeys = []string{
	"currency",
	"phone",
	"custom_json_fields",
	"payer_name",
	"payer_desc",
	"auto_verify",
	"allowed_card",
}

func (e Extensions) validate() error {
	for key := range e {
		if !isAllowedExtensionKey(key) {
			return &ExtensionKeyError{Key: key}
		}
	}
	return nil
}

// appendTo writes the extension fields in the canonical key order so the
// encoded body is deterministic regardless of map iteration.
func (e Extensions) appendTo(f *form) {
	for _, key := range allowedExtensionKeys {
		if value, ok := e[key]; ok {
			f.add(key, value)
		}
	}
}

func isAllowedExtensionKey(key string) bool {
	for _, allowed := range allowedExtensionKeys {
		if key == allowed {
			return true
		}
	}
	return false
}

func isKnownCurrency(currency string) bool {
	switch currency {
	case "IRT", "IRR":
		return true
	}
	return false
}

// form is an order-preserving urlencoded body builder. url.Values re-sorts
// keys on encode, which would break the field order the gateway has always
// been sent, so fields are kept as an append-only pair list.
type form struct {
	pairs []pair
}

type pair struct {
	key   string
	value string
}

func newForm() *form {
	return &form{}
}

func (f *form) add(key, value string) {
	f.pairs = append(f.pairs, pair{key: key, value: value})
}

func (f *form) encode() string {
	var b strings.Builder
	for i, p := range f.pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}
