package store

import (
	"fmt"
	"regexp"

	"sitekv/pkg/dberrors"
)

var (
	tenantRe = regexp.MustCompile(`^[a-z0-9-]{1,32}$`)
	keyRe    = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)
)

func validTenant(tenant string) bool {
	return tenantRe.MatchString(tenant)
}

func validKey(key string) bool {
	return keyRe.MatchString(key)
}

func validate(tenant, key string) error {
	if !validTenant(tenant) {
		return fmt.Errorf("%w: %q", dberrors.ErrInvalidTenant, tenant)
	}
	if !validKey(key) {
		return fmt.Errorf("%w: %q", dberrors.ErrInvalidKey, key)
	}
	return nil
}
