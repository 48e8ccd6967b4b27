package cache

import (
	"strings"

	"github.com/hostdash/cachetier/types"
)

// historyIDSeparator joins the user and host halves of a command history
// key. It is distinct from the namespace delimiter so the composed id still
// passes key validation.
const historyIDSeparator = "@"

// ValidateKey checks a caller-supplied key against the physical key rules.
// The namespace delimiter is reserved; a key containing it would alias into
// another namespace.
func ValidateKey(namespace, key string) error {
	if namespace == "" {
		return types.ErrNamespaceEmpty
	}
	if key == "" {
		return types.ErrKeyEmpty
	}
	if strings.Contains(key, types.KeyDelimiter) {
		return types.NewOperationError("key must not contain '"+types.KeyDelimiter+"'", nil).
			WithMetadata("key", key)
	}
	return nil
}

// BuildKey composes the physical store key for a namespace and caller key.
func BuildKey(namespace, key string) (string, error) {
	if err := ValidateKey(namespace, key); err != nil {
		return "", err
	}
	return namespace + types.KeyDelimiter + key, nil
}

// SplitKey is the inverse of BuildKey. The key half keeps any delimiter-free
// text as-is; unknown shapes report an operation error.
func SplitKey(physical string) (namespace, key string, err error) {
	idx := strings.Index(physical, types.KeyDelimiter)
	if idx <= 0 || idx == len(physical)-1 {
		return "", "", types.NewOperationError("malformed physical key", nil).
			WithMetadata("key", physical)
	}
	return physical[:idx], physical[idx+1:], nil
}

// HistoryID composes the per-(user, host) identity for command history keys.
func HistoryID(userID, hostID string) (string, error) {
	if userID == "" || hostID == "" {
		return "", types.ErrKeyEmpty
	}
	if strings.Contains(userID, types.KeyDelimiter) || strings.Contains(hostID, types.KeyDelimiter) {
		return "", types.NewOperationError("identity must not contain '"+types.KeyDelimiter+"'", nil)
	}
	return userID + historyIDSeparator + hostID, nil
}
