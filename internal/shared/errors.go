package shared

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden indicates the principal lacks the required role or permission.
	ErrForbidden = errors.New("forbidden")
	// ErrTransport wraps failures reaching the backing store or provider.
	ErrTransport = errors.New("store unavailable")
	// ErrValidation marks invalid input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a uniqueness violation.
	ErrConflict = errors.New("conflict")
	// ErrSelfModification is returned when a user tries to demote or delete itself.
	ErrSelfModification = errors.New("cannot modify your own account")
	// ErrConfirmationRequired is returned when a destructive action was not confirmed.
	ErrConfirmationRequired = errors.New("confirmation required")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// ValidationErrors maps form fields to messages. It matches ErrValidation.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ErrValidation.Error()
	}
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v[field])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Is lets errors.Is(err, ErrValidation) match.
func (v ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}

// UserSafeMessage returns a message that can be rendered to end users.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Email o contraseña incorrectos"
	case errors.Is(err, ErrTransport):
		return "El servicio no está disponible, intente nuevamente"
	case errors.Is(err, ErrNotFound):
		return "El registro no existe"
	case errors.Is(err, ErrSelfModification):
		return "No puede modificar su propia cuenta"
	case errors.Is(err, ErrConflict):
		return "Ya existe un registro con esos datos"
	case errors.Is(err, ErrConfirmationRequired):
		return "Debe confirmar la operación"
	case errors.Is(err, ErrValidation):
		return "Revise los datos ingresados"
	default:
		return "Ocurrió un error inesperado"
	}
}
