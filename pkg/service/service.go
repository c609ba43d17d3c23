// Package service holds the storefront's business operations. Every
// operation takes the authenticated auth.Caller explicitly; errors returned
// are *apperr.Error.
package service

import (
	"errors"
	"strings"
	"unicode"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/auth"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/repository"
)

func requireCaller(caller auth.Caller) error {
	if caller.ID == "" {
		return apperr.ErrNotAuthenticated
	}
	return nil
}

func requireAdmin(caller auth.Caller) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	if !caller.IsAdmin() {
		return apperr.ErrForbidden
	}
	return nil
}

// storeErr maps a store failure onto the taxonomy, using notFound for a
// missing document.
func storeErr(err error, notFound *apperr.Error) error {
	if notFound != nil && errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return apperr.From(err)
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
