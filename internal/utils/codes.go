package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

const (
	DefaultCodeDigits = 4
	maxCodeDigits     = 18 // влезает в int64
)

type CodeGenerator interface {
	Generate() string
}

// NumericCodeGenerator: код фиксированной длины из цифр 0-9, равномерно по [0, 10^Digits).
type NumericCodeGenerator struct {
	Digits int
}

func NewNumericCodeGenerator(digits int) *NumericCodeGenerator {
	if digits <= 0 {
		digits = DefaultCodeDigits
	}
	if digits > maxCodeDigits {
		digits = maxCodeDigits
	}
	return &NumericCodeGenerator{Digits: digits}
}

func (g *NumericCodeGenerator) Generate() string {
	digits := g.Digits
	if digits <= 0 {
		digits = DefaultCodeDigits
	}
	if digits > maxCodeDigits {
		digits = maxCodeDigits
	}
	upper := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, upper)
	if err != nil {
		// crypto/rand не возвращает ошибок на поддерживаемых платформах
		panic("crypto/rand: " + err.Error())
	}
	return fmt.Sprintf("%0*d", digits, n.Int64())
}

// HexCodeGenerator: длинный одноразовый код привязки: Bytes случайных байт в верхнем HEX.
type HexCodeGenerator struct {
	Bytes int
}

func (g HexCodeGenerator) Generate() string {
	n := g.Bytes
	if n <= 0 {
		n = 16
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return strings.ToUpper(hex.EncodeToString(buf))
}
