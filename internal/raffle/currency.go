package raffle

import (
	"fmt"
	"math/big"
	"math/bits"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// Currency identifies one of the ticket price denominations.
type Currency string

const (
	CurrencySol   Currency = "SOL"
	CurrencyBooga Currency = "BOOGA"
	CurrencyZion  Currency = "ZION"
)

// Decimals returns the protocol scaling exponent of the currency.
func (c Currency) Decimals() int32 {
	switch c {
	case CurrencyBooga:
		return 2
	default:
		return 9
	}
}

// Native reports whether the currency is paid in lamports rather than tokens.
func (c Currency) Native() bool {
	return c == CurrencySol
}

// Mints maps the token currencies to their mint addresses.
type Mints struct {
	Booga solana.PublicKey
	Zion  solana.PublicKey
}

// Mint returns the token mint of c. Native currency has none.
func (m Mints) Mint(c Currency) (solana.PublicKey, bool) {
	switch c {
	case CurrencyBooga:
		return m.Booga, true
	case CurrencyZion:
		return m.Zion, true
	default:
		return solana.PublicKey{}, false
	}
}

// ToBaseUnits scales a human amount into the currency's fixed-point integer.
// Amounts with more precision than the currency supports are rejected.
func ToBaseUnits(amount decimal.Decimal, c Currency) (uint64, error) {
	if amount.Sign() < 0 {
		return 0, fmt.Errorf("%w: negative %s amount %s", ErrInvalidArgument, c, amount)
	}
	scaled := amount.Shift(c.Decimals())
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("%w: %s amount %s has more than %d decimals", ErrInvalidArgument, c, amount, c.Decimals())
	}
	n := scaled.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: %s amount %s overflows", ErrInvalidArgument, c, amount)
	}
	return n.Uint64(), nil
}

// FromBaseUnits converts a fixed-point integer back to a human amount.
func FromBaseUnits(units uint64, c Currency) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -c.Decimals())
}

// Prices are the three ticket price denominations in human units.
type Prices struct {
	Sol   decimal.Decimal `json:"sol"`
	Booga decimal.Decimal `json:"booga"`
	Zion  decimal.Decimal `json:"zion"`
}

// BaseUnits holds prices already scaled to fixed-point integers.
type BaseUnits struct {
	Sol   uint64
	Booga uint64
	Zion  uint64
}

// Scale converts every denomination and requires at least one to be positive.
func (p Prices) Scale() (BaseUnits, error) {
	var (
		out BaseUnits
		err error
	)
	if out.Sol, err = ToBaseUnits(p.Sol, CurrencySol); err != nil {
		return BaseUnits{}, err
	}
	if out.Booga, err = ToBaseUnits(p.Booga, CurrencyBooga); err != nil {
		return BaseUnits{}, err
	}
	if out.Zion, err = ToBaseUnits(p.Zion, CurrencyZion); err != nil {
		return BaseUnits{}, err
	}
	if out.Sol == 0 && out.Booga == 0 && out.Zion == 0 {
		return BaseUnits{}, fmt.Errorf("%w: at least one ticket price must be positive", ErrInvalidArgument)
	}
	return out, nil
}

// PaymentCurrency resolves which denomination tickets are paid in:
// ZION when priced, else BOOGA when priced, else native SOL.
func (p *Pool) PaymentCurrency() (Currency, uint64) {
	switch {
	case p.TicketPriceZion > 0:
		return CurrencyZion, p.TicketPriceZion
	case p.TicketPriceBooga > 0:
		return CurrencyBooga, p.TicketPriceBooga
	default:
		return CurrencySol, p.TicketPriceSol
	}
}

// TicketCost is amount × price in base units of the payment currency.
func (p *Pool) TicketCost(amount uint64) (Currency, uint64, error) {
	currency, price := p.PaymentCurrency()
	hi, lo := bits.Mul64(amount, price)
	if hi != 0 {
		return currency, 0, fmt.Errorf("%w: cost of %d tickets overflows", ErrInvalidArgument, amount)
	}
	return currency, lo, nil
}
