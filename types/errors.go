package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrManagerAlreadyRunning = errors.New("manager already running")
	ErrManagerNotRunning     = errors.New("manager not running")
	ErrComponentStartFailed  = errors.New("component start failed")
	ErrComponentStopFailed   = errors.New("component stop failed")
)

var (
	ErrKeyNotFound       = errors.New("key not found in cache")
	ErrKeyEmpty          = errors.New("cache key empty")
	ErrNamespaceEmpty    = errors.New("cache namespace empty")
	ErrShutdownInitiated = errors.New("shutdown initiated")
)

var (
	ErrSweepJobExists        = errors.New("sweep job exists")
	ErrSweepScheduleInvalid  = errors.New("sweep schedule invalid")
	ErrSweepSchedulerStopped = errors.New("sweep scheduler stopped")
)

// ErrorKind identifies the failure class of a cache tier error. The set is
// closed: every error surfaced by this module carries exactly one kind.
type ErrorKind int

const (
	// KindInvalidConfig is raised at construction time and is never retryable.
	KindInvalidConfig ErrorKind = iota
	// KindNotConnected means an operation was attempted while the connection
	// was not Ready. The executor does not retry it.
	KindNotConnected
	// KindConnectionError is a transport-level failure. It drives the
	// connection manager's reconnection backoff and is retryable.
	KindConnectionError
	// KindAuthenticationError is a credential rejection. Requires operator
	// intervention, never retried automatically.
	KindAuthenticationError
	// KindOperationError is a command that failed against a live connection:
	// malformed payload, key validation failure, unexpected reply.
	KindOperationError
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidConfig:
		return "INVALID_CONFIG"
	case KindNotConnected:
		return "NOT_CONNECTED"
	case KindConnectionError:
		return "CONNECTION_ERROR"
	case KindAuthenticationError:
		return "AUTHENTICATION_ERROR"
	case KindOperationError:
		return "OPERATION_ERROR"
	default:
		return "UNKNOWN"
	}
}

// CacheError is the uniform error envelope for the cache tier.
type CacheError struct {
	Kind     ErrorKind
	Message  string
	Cause    error
	Metadata map[string]string
}

func (e *CacheError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("cache error [%s]: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("cache error [%s]: %s", e.Kind, e.Message)
}

func (e *CacheError) Unwrap() error {
	return e.Cause
}

func (e *CacheError) Is(target error) bool {
	var t *CacheError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func (e *CacheError) WithMetadata(key, value string) *CacheError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

func NewCacheError(kind ErrorKind, message string, cause error) *CacheError {
	return &CacheError{Kind: kind, Message: message, Cause: cause}
}

func NewInvalidConfigError(message string, cause error) *CacheError {
	return NewCacheError(KindInvalidConfig, message, cause)
}

func NewNotConnectedError(message string) *CacheError {
	return NewCacheError(KindNotConnected, message, nil)
}

func NewConnectionError(message string, cause error) *CacheError {
	return NewCacheError(KindConnectionError, message, cause)
}

func NewAuthenticationError(message string, cause error) *CacheError {
	return NewCacheError(KindAuthenticationError, message, cause)
}

func NewOperationError(message string, cause error) *CacheError {
	return NewCacheError(KindOperationError, message, cause)
}

// ErrorKindOf extracts the kind of a classified error, reporting false for
// plain errors that never went through Classify.
func ErrorKindOf(err error) (ErrorKind, bool) {
	var ce *CacheError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

func IsKind(err error, kind ErrorKind) bool {
	k, ok := ErrorKindOf(err)
	return ok && k == kind
}

// Retryable reports whether the executor may retry the failed attempt.
// Only transport failures qualify; malformed requests cannot succeed on
// retry, and credential rejections need operator intervention.
func Retryable(err error) bool {
	k, ok := ErrorKindOf(err)
	if !ok {
		return false
	}
	return k == KindConnectionError
}

// Classify wraps an arbitrary failure into a CacheError with the kind the
// taxonomy assigns to its origin. Already-classified errors pass through.
func Classify(err error) *CacheError {
	if err == nil {
		return nil
	}

	var ce *CacheError
	if errors.As(err, &ce) {
		return ce
	}

	if isAuthError(err) {
		return NewAuthenticationError("store rejected credentials", err)
	}

	if isTransportError(err) {
		return NewConnectionError("store transport failure", err)
	}

	return NewOperationError("store operation failed", err)
}

func isAuthError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "NOAUTH") ||
		strings.Contains(msg, "WRONGPASS") ||
		strings.Contains(msg, "invalid password") ||
		strings.Contains(msg, "invalid username-password pair")
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var syscallErr syscall.Errno
	if errors.As(err, &syscallErr) {
		switch syscallErr {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ECONNABORTED,
			syscall.EHOSTUNREACH, syscall.ENETUNREACH, syscall.ETIMEDOUT,
			syscall.EPIPE:
			return true
		}
	}

	if errors.Is(err, redis.ErrClosed) {
		return true
	}

	// go-redis surfaces some transport problems as plain strings, and the
	// store reports transient states (LOADING, BUSY) worth retrying.
	msg := err.Error()
	for _, marker := range []string{
		"connection refused", "connection reset", "broken pipe",
		"i/o timeout", "no route to host", "network is unreachable",
		"LOADING", "BUSY", "TRYAGAIN", "use of closed network connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
