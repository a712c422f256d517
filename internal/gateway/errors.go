package gateway

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAuthentication возвращается, если не удалось получить учётные данные для обращения к шлюзу.
	ErrAuthentication = errors.New("gateway authentication failed")
	// ErrUnauthorized возвращается, если шлюз отклонил токен (401/403).
	ErrUnauthorized = errors.New("gateway rejected credentials")
	// ErrNoRefreshToken возвращается, если токен продавца нельзя обновить.
	ErrNoRefreshToken = errors.New("merchant refresh token is missing")
	// ErrInvalidRequest возвращается при некорректных параметрах запроса.
	ErrInvalidRequest = errors.New("invalid gateway request")
)

// AuthError описывает ошибку аутентификации в шлюзе.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %v", ErrAuthentication, e.Err)
}

func (e *AuthError) Unwrap() []error {
	return []error{ErrAuthentication, e.Err}
}

// UnavailableError описывает временную недоступность шлюза: сетевую ошибку,
// ответ 5xx или неожиданный ответ. Такие ошибки повторяются в следующем цикле.
type UnavailableError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UnavailableError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s unavailable (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s unavailable: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// AmountValidationError возвращается, если сумма чекаута не совпадает с ожидаемой.
// Это защита от подмены суммы, а не обычная ошибка валидации.
type AmountValidationError struct {
	Amount   decimal.Decimal
	Expected decimal.Decimal
}

func (e *AmountValidationError) Error() string {
	return fmt.Sprintf("checkout amount %s does not match expected amount %s", e.Amount.StringFixed(2), e.Expected.StringFixed(2))
}

// IsTransient сообщает, что ошибку следует повторить в следующем цикле.
func IsTransient(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable)
}
