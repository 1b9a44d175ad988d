package mpesa

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sudo-init-do/moverspay/internal/gateway"
)

// NormalizePhone turns local and international Kenyan numbers into the
// 2547XXXXXXXX form Daraja expects.
func NormalizePhone(phone string) (string, error) {
	p := strings.NewReplacer("+", "", " ", "", "-", "").Replace(strings.TrimSpace(phone))
	switch {
	case strings.HasPrefix(p, "0"):
		p = "254" + p[1:]
	case !strings.HasPrefix(p, "254"):
		p = "254" + p
	}
	if len(p) != 12 {
		return "", fmt.Errorf("%w: invalid phone number %q", gateway.ErrRejected, phone)
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("%w: invalid phone number %q", gateway.ErrRejected, phone)
		}
	}
	return p, nil
}

// wholeShillings converts minor units to the integer amount Daraja accepts.
// Amounts with a cent component are refused rather than rounded.
func wholeShillings(minor int64) (int64, error) {
	d := decimal.New(minor, -2)
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %s is not a whole shilling amount", gateway.ErrRejected, d.StringFixed(2))
	}
	if d.LessThan(decimal.NewFromInt(1)) {
		return 0, fmt.Errorf("%w: amount %s is below the minimum", gateway.ErrRejected, d.StringFixed(2))
	}
	return d.IntPart(), nil
}

// resultCode accepts Daraja result codes sent either as numbers or strings.
type resultCode string

func (c *resultCode) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*c = ""
		return nil
	}
	*c = resultCode(strings.Trim(s, `"`))
	return nil
}

func (c resultCode) ok() bool { return c == "0" }
