package services

import (
	"errors"
	"fmt"
)

// ErrorKind: закрытый список видов ошибок, которые видит клиент.
type ErrorKind string

const (
	KindInvalidRequest       ErrorKind = "INVALID_REQUEST"
	KindAccountNotFound      ErrorKind = "ACCOUNT_NOT_FOUND"
	KindInvalidOrExpiredCode ErrorKind = "INVALID_OR_EXPIRED_CODE"
	KindWeakPassword         ErrorKind = "WEAK_PASSWORD"
	KindDeliveryFailure      ErrorKind = "DELIVERY_FAILURE"
	KindStorageFailure       ErrorKind = "STORAGE_FAILURE"
	KindRateLimited          ErrorKind = "RATE_LIMITED"
	KindUnauthorized         ErrorKind = "UNAUTHORIZED"
)

var (
	ErrInvalidEmail         = errors.New("invalid email")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidOrExpiredCode = errors.New("invalid or expired code")
	ErrWeakPassword         = errors.New("weak password")
	ErrDeliveryFailure      = errors.New("delivery failure")
	ErrStorageFailure       = errors.New("storage failure")
	ErrRateLimited          = errors.New("too many requests")
	ErrInvalidCredentials   = errors.New("invalid email or password")
)

// storageError оборачивает причину так, что errors.Is(err, ErrStorageFailure) истинно,
// а исходная ошибка остаётся доступна через errors.Unwrap для логов.
func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
}

// KindOf сводит любую ошибку к виду из ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrAccountNotFound):
		return KindAccountNotFound
	case errors.Is(err, ErrInvalidOrExpiredCode):
		return KindInvalidOrExpiredCode
	case errors.Is(err, ErrWeakPassword):
		return KindWeakPassword
	case errors.Is(err, ErrDeliveryFailure):
		return KindDeliveryFailure
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrInvalidCredentials):
		return KindUnauthorized
	default:
		return KindStorageFailure
	}
}
