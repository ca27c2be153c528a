// Copyright (c) 2026 Keymaster Team
// Keymaster - SSH key management system
// This source code is licensed under the MIT license found in the LICENSE file.

package directory

import (
	"strings"
	"unicode"

	"github.com/juju/errors"
)

// Record layout in the store:
//
//	<identity>                 -> account
//	account_name_<account>     -> account   (reverse pointer)
//	account_name_<account>_pk  -> key lines joined by ":"
const (
	accountPrefix = "account_name_"
	keysSuffix    = "_pk"
	keySeparator  = ":"
)

func accountKey(account string) string { return accountPrefix + account }

func keysKey(account string) string { return accountPrefix + account + keysSuffix }

func splitKeys(raw string) []string {
	if raw == "" {
		return []string{}
	}
	return strings.Split(raw, keySeparator)
}

func joinKeys(keys []string) string {
	return strings.Join(keys, keySeparator)
}

// validateIdentity rejects identities that could collide with the account
// records sharing the same key space.
func validateIdentity(identity string) error {
	if identity == "" {
		return errors.NotValidf("empty identity")
	}
	if strings.HasPrefix(identity, accountPrefix) {
		return errors.NotValidf("identity %q", identity)
	}
	if strings.IndexFunc(identity, unicode.IsSpace) >= 0 {
		return errors.NotValidf("identity %q containing whitespace", identity)
	}
	return nil
}
