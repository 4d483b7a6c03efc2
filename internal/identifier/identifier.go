// Package identifier produces the human-visible reference numbers printed on
// assets, applications, loans, auctions and bid-payment receipts.
package identifier

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
)

type Kind int

const (
	Asset Kind = iota
	Application
	Loan
	Auction
	Receipt
)

// ErrExhausted is returned when every attempt collided with an existing identifier.
var ErrExhausted = errors.New("identifier: attempts exhausted")

const DefaultMaxAttempts = 5

// Format renders an identifier for kind at t with the given numeric suffix.
func Format(kind Kind, t time.Time, n int) string {
	switch kind {
	case Asset:
		return fmt.Sprintf("AST%s%04d", t.Format("0601"), n%10000)
	case Application:
		return fmt.Sprintf("APP%s%03d", t.Format("0601"), n%1000)
	case Loan:
		return fmt.Sprintf("LON%s%04d", t.Format("0601"), n%10000)
	case Auction:
		return fmt.Sprintf("AUCTION-%s-%04d", t.Format("0601"), n%10000)
	case Receipt:
		return fmt.Sprintf("BIDPAY-%s-%04d", t.Format("060102"), n%10000)
	}
	return ""
}

func space(kind Kind) int64 {
	if kind == Application {
		return 1000
	}
	return 10000
}

// Generator draws random suffixes. Rand is swappable for tests.
type Generator struct {
	Now         func() time.Time
	Rand        func(max int64) int64
	MaxAttempts int
}

func New(maxAttempts int) *Generator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Generator{
		Now:         time.Now,
		Rand:        cryptoRand,
		MaxAttempts: maxAttempts,
	}
}

func cryptoRand(max int64) int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return time.Now().UnixNano() % max
	}
	return n.Int64()
}

// Next returns a fresh identifier of kind.
func (g *Generator) Next(kind Kind) string {
	return Format(kind, g.Now(), int(g.Rand(space(kind))))
}

// Insert generates identifiers and calls insert until it succeeds. Insert is retried
// only when it fails with a duplicate error; any other error is returned as is.
func (g *Generator) Insert(ctx context.Context, kind Kind, insert func(id string) error) (string, error) {
	for attempt := 0; attempt < g.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		id := g.Next(kind)
		err := insert(id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, apperror.ErrDuplicate) {
			return "", err
		}
	}
	return "", ErrExhausted
}
