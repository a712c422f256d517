// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

const (
	orderNumberPrefix    = "ORD-"
	orderNumberMinSuffix = 8
	orderNumberMaxSuffix = 20
)

// IsValidOrderNumber проверяет формат номера заказа маркетплейса: ORD- и 8–20 латинских букв или цифр.
func IsValidOrderNumber(number string) bool {
	if len(number) <= len(orderNumberPrefix) || number[:len(orderNumberPrefix)] != orderNumberPrefix {
		return false
	}

	suffix := number[len(orderNumberPrefix):]
	if len(suffix) < orderNumberMinSuffix || len(suffix) > orderNumberMaxSuffix {
		return false
	}

	for i := 0; i < len(suffix); i++ {
		ch := rune(suffix[i])
		if ch > unicode.MaxASCII || !(unicode.IsDigit(ch) || unicode.IsLetter(ch)) {
			return false
		}
	}

	return true
}

// IsValidCurrency проверяет, что код валюты состоит из трёх заглавных латинских букв (ISO 4217).
func IsValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return false
		}
	}
	return true
}
