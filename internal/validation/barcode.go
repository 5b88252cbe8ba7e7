// Package validation содержит проверки кодов, используемых терминалом.
package validation

// IsValidEAN13 проверяет контрольную цифру штрихкода EAN-13.
func IsValidEAN13(code string) bool {
	if len(code) != 13 {
		return false
	}

	sum := 0
	for i, r := range code {
		if r < '0' || r > '9' {
			return false
		}

		digit := int(r - '0')
		if i == 12 {
			check := (10 - sum%10) % 10
			return digit == check
		}

		// Нечётные позиции (с нуля) входят в сумму с весом 3.
		if i%2 == 1 {
			digit *= 3
		}
		sum += digit
	}

	return false
}
