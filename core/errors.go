package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ConnectionsErrorBadInput       = "CONNECTIONS_BAD_INPUT"
	ConnectionsErrorNotConnected   = "CONNECTIONS_NOT_CONNECTED"
	ConnectionsErrorSessionInvalid = "CONNECTIONS_SESSION_INVALID"
	ConnectionsErrorProviderFailed = "CONNECTIONS_PROVIDER_FAILED"
	ConnectionsErrorRefreshLocked  = "CONNECTIONS_REFRESH_LOCKED"
	ConnectionsErrorMigration      = "CONNECTIONS_MIGRATION_FAILED"
	ConnectionsErrorInternal       = "CONNECTIONS_INTERNAL_ERROR"
)

func connectionsErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureConnectionsErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrNotConnected):
		return newConnectionsError(err.Error(), goerrors.CategoryNotFound, ConnectionsErrorNotConnected)
	case errors.Is(err, ErrSessionInvalid):
		return newConnectionsError(err.Error(), goerrors.CategoryAuth, ConnectionsErrorSessionInvalid)
	case errors.Is(err, ErrInvalidGrantKey):
		return newConnectionsError(err.Error(), goerrors.CategoryBadInput, ConnectionsErrorBadInput)
	case errors.Is(err, ErrProviderNotRegistered):
		return newConnectionsError(err.Error(), goerrors.CategoryNotFound, ConnectionsErrorNotConnected)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "lock already held"), strings.Contains(msg, "refresh lock"):
		return newConnectionsError(err.Error(), goerrors.CategoryConflict, ConnectionsErrorRefreshLocked)
	case strings.Contains(msg, "provider refresh"), strings.Contains(msg, "provider exchange"):
		return newConnectionsError(err.Error(), goerrors.CategoryOperation, ConnectionsErrorProviderFailed)
	case strings.Contains(msg, "migration"):
		return newConnectionsError(err.Error(), goerrors.CategoryInternal, ConnectionsErrorMigration)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newConnectionsError(err.Error(), goerrors.CategoryBadInput, ConnectionsErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureConnectionsErrorEnvelope(mapped)
}

func newConnectionsError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureConnectionsErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureConnectionsErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = connectionsHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultConnectionsTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultConnectionsTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ConnectionsErrorBadInput
	case goerrors.CategoryNotFound:
		return ConnectionsErrorNotConnected
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ConnectionsErrorSessionInvalid
	case goerrors.CategoryConflict:
		return ConnectionsErrorRefreshLocked
	case goerrors.CategoryOperation:
		return ConnectionsErrorProviderFailed
	default:
		return ConnectionsErrorInternal
	}
}

func connectionsHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
