package identifier

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	at := time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, "AST25010001", Format(Asset, at, 1))
	assert.Equal(t, "APP2501042", Format(Application, at, 42))
	assert.Equal(t, "LON25019999", Format(Loan, at, 9999))
	assert.Equal(t, "AUCTION-2501-0042", Format(Auction, at, 42))
	assert.Equal(t, "BIDPAY-250115-0042", Format(Receipt, at, 42))
}

func TestNextMatchesPattern(t *testing.T) {
	g := New(0)
	patterns := map[Kind]*regexp.Regexp{
		Asset:       regexp.MustCompile(`^AST\d{4}\d{4}$`),
		Application: regexp.MustCompile(`^APP\d{4}\d{3}$`),
		Loan:        regexp.MustCompile(`^LON\d{4}\d{4}$`),
		Auction:     regexp.MustCompile(`^AUCTION-\d{4}-\d{4}$`),
		Receipt:     regexp.MustCompile(`^BIDPAY-\d{6}-\d{4}$`),
	}

	for kind, rx := range patterns {
		for i := 0; i < 50; i++ {
			id := g.Next(kind)
			require.Regexp(t, rx, id)
		}
	}
}

func TestInsertRetriesOnDuplicate(t *testing.T) {
	seq := []int64{1, 1, 2}
	g := New(5)
	g.Now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	g.Rand = func(int64) int64 {
		n := seq[0]
		seq = seq[1:]
		return n
	}

	taken := map[string]bool{"AST25010001": true}
	calls := 0
	id, err := g.Insert(context.Background(), Asset, func(id string) error {
		calls++
		if taken[id] {
			return apperror.Duplicate("asset_no already exists")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "AST25010002", id)
	assert.Equal(t, 3, calls)
}

func TestInsertExhausted(t *testing.T) {
	g := New(3)
	calls := 0
	_, err := g.Insert(context.Background(), Loan, func(string) error {
		calls++
		return apperror.Duplicate("loan_no already exists")
	})

	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 3, calls)
}

func TestInsertStopsOnOtherErrors(t *testing.T) {
	boom := errors.New("connection reset")
	g := New(5)
	calls := 0
	_, err := g.Insert(context.Background(), Auction, func(string) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
