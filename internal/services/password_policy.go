package services

import (
	"fmt"
	"strings"
	"unicode"
)

type PasswordPolicy struct {
	MinLength     int
	RequireLetter bool
	RequireDigit  bool
}

// PasswordPolicyError перечисляет нарушенные правила; errors.Is(err, ErrWeakPassword) истинно.
type PasswordPolicyError struct {
	Violations []string
}

func (e *PasswordPolicyError) Error() string {
	return "password must " + strings.Join(e.Violations, ", ")
}

func (e *PasswordPolicyError) Is(target error) bool { return target == ErrWeakPassword }

// Check проверяет пароль до любых изменений в хранилище.
func (p PasswordPolicy) Check(password string) error {
	var violations []string
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	if n := len([]rune(password)); n < p.MinLength {
		violations = append(violations, fmt.Sprintf("be at least %d characters long", p.MinLength))
	}
	if strings.TrimSpace(password) != password {
		violations = append(violations, "not start or end with whitespace")
	}
	if p.RequireLetter && !hasLetter {
		violations = append(violations, "contain at least one letter")
	}
	if p.RequireDigit && !hasDigit {
		violations = append(violations, "contain at least one digit")
	}
	// bcrypt учитывает только первые 72 байта
	if len(password) > 72 {
		violations = append(violations, "be at most 72 bytes long")
	}

	if len(violations) > 0 {
		return &PasswordPolicyError{Violations: violations}
	}
	return nil
}
