// Package core provides money parsing and handling utilities.
//
// Amounts are always carried as integer cents. Human input is parsed with
// decimal arithmetic and never passes through a float.
package core

import (
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type Money struct {
	Cents int64
}

var (
	ErrInvalidAmount = errors.New("invalid amount")

	moneyCleaner = strings.NewReplacer("$", "", ",", "", " ", "", "\t", "", "\n", "")
	maxCents     = decimal.NewFromInt(1<<53 - 1)
	usPrinter    = message.NewPrinter(language.AmericanEnglish)
)

func Cents(c int64) Money {
	return Money{Cents: c}
}

// ParseMoney converts user input such as "$1,234.56" or "54.1" to cents.
//
// Dollar signs, thousands separators and whitespace are ignored. Sub-cent digits
// are rounded half away from zero, so "12.345" becomes 1235. The sign is kept;
// callers that need a positive amount check it with Validate.
func ParseMoney(s string) (Money, error) {
	cleaned := moneyCleaner.Replace(strings.TrimSpace(s))
	if cleaned == "" {
		return Money{}, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return Money{}, ErrInvalidAmount
	}
	cents := d.Round(2).Shift(2)
	if cents.Abs().GreaterThan(maxCents) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Cents: cents.IntPart()}, nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }

// String formats the amount as US dollars, e.g. -$1,234.56.
func (m Money) String() string {
	c := m.Cents
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return sign + usPrinter.Sprintf("$%d.%02d", c/100, c%100)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, m.Cents, 10), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	c, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return ErrInvalidAmount
	}
	m.Cents = c
	return nil
}
