package domain

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Money is a signed decimal amount in a single ISO-4217 currency.
// Arithmetic never mixes currencies: Add and Sub report a validation error instead.
type Money struct {
	value decimal.Decimal
	cur   string
}

// M builds a Money from a float-like or decimal value.
func M[T float64 | int | int64 | decimal.Decimal](value T, currency string) Money {
	var v decimal.Decimal
	switch x := any(value).(type) {
	case float64:
		v = decimal.NewFromFloat(x)
	case int:
		v = decimal.NewFromInt(int64(x))
	case int64:
		v = decimal.NewFromInt(x)
	case decimal.Decimal:
		v = x
	}
	return Money{value: v, cur: strings.ToUpper(currency)}
}

// ParseMoney parses a decimal string such as "-15.99" in the given currency.
func ParseMoney(amount, currency string) (Money, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return Money{}, &ErrValidation{Field: "amount", Message: fmt.Sprintf("invalid amount %q", amount)}
	}
	m := Money{value: v, cur: strings.ToUpper(currency)}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

// Zero returns a zero amount in currency.
func Zero(currency string) Money { return Money{value: decimal.Zero, cur: strings.ToUpper(currency)} }

// Validate checks that the currency code is known.
func (m Money) Validate() error {
	if m.cur == "" || money.GetCurrency(m.cur) == nil {
		return &ErrValidation{Field: "currency", Message: fmt.Sprintf("unknown currency %q", m.cur)}
	}
	return nil
}

func (m Money) Currency() string          { return m.cur }
func (m Money) Decimal() decimal.Decimal  { return m.value }
func (m Money) IsZero() bool              { return m.value.IsZero() }
func (m Money) IsNegative() bool          { return m.value.IsNegative() }
func (m Money) IsPositive() bool          { return m.value.IsPositive() }
func (m Money) Sign() int                 { return m.value.Sign() }
func (m Money) Neg() Money                { return Money{value: m.value.Neg(), cur: m.cur} }
func (m Money) Abs() Money                { return Money{value: m.value.Abs(), cur: m.cur} }
func (m Money) Equal(n Money) bool        { return m.cur == n.cur && m.value.Equal(n.value) }
func (m Money) SameCurrency(n Money) bool { return m.cur == n.cur }

// InexactFloat64 is for metrics and logs only.
func (m Money) InexactFloat64() float64 { return m.value.InexactFloat64() }

// Add returns m+n. A currency-less zero Money adopts the other operand's currency.
func (m Money) Add(n Money) (Money, error) {
	c, err := commonCurrency(m, n)
	if err != nil {
		return Money{}, err
	}
	return Money{value: m.value.Add(n.value), cur: c}, nil
}

// Sub returns m-n.
func (m Money) Sub(n Money) (Money, error) {
	return m.Add(n.Neg())
}

func commonCurrency(a, b Money) (string, error) {
	switch {
	case a.cur == "":
		return b.cur, nil
	case b.cur == "", a.cur == b.cur:
		return a.cur, nil
	}
	return "", &ErrValidation{Field: "currency", Message: fmt.Sprintf("currency mismatch: %s != %s", a.cur, b.cur)}
}

// String formats the amount with the currency's symbol and fraction digits.
func (m Money) String() string {
	cur := money.GetCurrency(m.cur)
	if cur == nil {
		return m.value.StringFixed(2) + " " + m.cur
	}
	minor := m.value.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, m.cur).Display()
}

// fixed renders the amount rounded to the currency's minor unit.
func (m Money) fixed() string {
	places := int32(2)
	if cur := money.GetCurrency(m.cur); cur != nil {
		places = int32(cur.Fraction)
	}
	return m.value.StringFixed(places)
}

type moneyJSON struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   json.RawMessage `json:"amount"`
		Currency string          `json:"currency"`
	}{Amount: json.RawMessage(`"` + m.fixed() + `"`), Currency: m.cur})
}

func (m *Money) UnmarshalJSON(b []byte) error {
	var raw moneyJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = Money{value: raw.Amount, cur: strings.ToUpper(raw.Currency)}
	return nil
}
