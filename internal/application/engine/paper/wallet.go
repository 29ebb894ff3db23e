package paper

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrInsufficientBalance rechaza una entrada que el wallet no puede pagar.
var ErrInsufficientBalance = errors.New("insufficient paper balance")

// lamports: 9 decimales de SOL.
const solPrecision = 9

// Wallet es el saldo simulado en SOL. Usa decimal para no acumular error
// de punto flotante entre cientos de entradas y salidas.
type Wallet struct {
	mu       sync.Mutex
	balance  decimal.Decimal
	initial  decimal.Decimal
	invested decimal.Decimal
}

// NewWallet crea un wallet con el saldo inicial dado.
func NewWallet(initial float64) *Wallet {
	d := decimal.NewFromFloat(initial).Round(solPrecision)
	return &Wallet{balance: d, initial: d, invested: decimal.Zero}
}

// Debit reserva amount para una entrada.
func (w *Wallet) Debit(amount float64) error {
	a := decimal.NewFromFloat(amount).Round(solPrecision)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balance.LessThan(a) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, w.balance.String(), a.String())
	}
	w.balance = w.balance.Sub(a)
	w.invested = w.invested.Add(a)
	return nil
}

// Settle devuelve al saldo el valor de salida de una posición:
// invested × exitPrice / entryPrice. Devuelve el monto acreditado.
func (w *Wallet) Settle(invested, entryPrice, exitPrice float64) float64 {
	in := decimal.NewFromFloat(invested).Round(solPrecision)
	returned := in
	if entryPrice > 0 {
		returned = in.Mul(decimal.NewFromFloat(exitPrice)).
			DivRound(decimal.NewFromFloat(entryPrice), solPrecision)
	}

	w.mu.Lock()
	w.balance = w.balance.Add(returned)
	w.invested = w.invested.Sub(in)
	w.mu.Unlock()

	f, _ := returned.Float64()
	return f
}

// Balance devuelve el saldo disponible.
func (w *Wallet) Balance() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, _ := w.balance.Float64()
	return f
}

// Invested devuelve el capital comprometido en posiciones abiertas.
func (w *Wallet) Invested() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, _ := w.invested.Float64()
	return f
}

// PnL devuelve el resultado realizado respecto del saldo inicial
// (el capital invested se cuenta a valor de entrada).
func (w *Wallet) PnL() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, _ := w.balance.Add(w.invested).Sub(w.initial).Float64()
	return f
}
