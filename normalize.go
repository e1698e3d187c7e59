package goAccount

import (
	"net/mail"
	"strings"
)

const maxEmailLength = 254

// NormalizeEmail validates a submitted address and returns it trimmed
// together with its identity key. The key is the lower-cased address;
// display names and comments are rejected.
func NormalizeEmail(raw string) (email, normalized string, err error) {
	email = strings.TrimSpace(raw)
	if email == "" || len(email) > maxEmailLength {
		return "", "", ErrInvalidParameter.Wrapf("invalid email")
	}
	addr, perr := mail.ParseAddress(email)
	if perr != nil || addr.Name != "" || addr.Address != email {
		return "", "", ErrInvalidParameter.Wrapf("invalid email")
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "", "", ErrInvalidParameter.Wrapf("invalid email")
	}
	return email, strings.ToLower(email), nil
}
