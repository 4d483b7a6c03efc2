package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cradoe/pawnbroker/assets"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/lib/pq"
)

const defaultTimeout = 3 * time.Second

// dbtx is satisfied by both *sqlx.DB and *sqlx.Tx so every repository can run
// inside or outside a transaction.
type dbtx interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// Store exposes the repositories. Inside WithinTx every repository shares the transaction.
type Store interface {
	User() UserRepository
	Asset() AssetRepository
	Valuation() ValuationRepository
	Application() ApplicationRepository
	Debtor() DebtorRepository
	Loan() LoanRepository
	LoanTerm() LoanTermRepository
	LoanPayment() LoanPaymentRepository
	Auction() AuctionRepository
	Bid() BidRepository
	BidPayment() BidPaymentRepository
	Audit() AuditRepository
}

// Database is the unit of work: Store for single statements, WithinTx for
// operations whose writes must land together.
type Database interface {
	Store
	WithinTx(ctx context.Context, fn func(Store) error) error
	Close() error
}

// DatabaseImpl implements the Database interface
type DatabaseImpl struct {
	db *sqlx.DB
	*repos
}

type repos struct {
	db dbtx

	userRepo        UserRepository
	assetRepo       AssetRepository
	valuationRepo   ValuationRepository
	applicationRepo ApplicationRepository
	debtorRepo      DebtorRepository
	loanRepo        LoanRepository
	termRepo        LoanTermRepository
	loanPaymentRepo LoanPaymentRepository
	auctionRepo     AuctionRepository
	bidRepo         BidRepository
	bidPaymentRepo  BidPaymentRepository
	auditRepo       AuditRepository

	mu sync.Mutex
}

// New initializes a database connection and runs migrations if enabled
func New(dsn string, automigrate bool) (*DatabaseImpl, error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", "postgres://"+dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(2 * time.Hour)

	if automigrate {
		iofsDriver, err := iofs.New(assets.EmbeddedFiles, "migrations")
		if err != nil {
			return nil, err
		}

		migrator, err := migrate.NewWithSourceInstance("iofs", iofsDriver, "postgres://"+dsn)
		if err != nil {
			return nil, err
		}

		if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, err
		}
	}

	return NewWithDB(db), nil
}

// NewWithDB wraps an existing connection; repositories are created lazily.
func NewWithDB(db *sqlx.DB) *DatabaseImpl {
	return &DatabaseImpl{db: db, repos: &repos{db: db}}
}

func (d *DatabaseImpl) Close() error {
	return d.db.Close()
}

// WithinTx runs fn in a read-committed transaction. Row locks taken through the
// GetForUpdate methods are held until fn returns.
func (d *DatabaseImpl) WithinTx(ctx context.Context, fn func(Store) error) (err error) {
	tx, err := d.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&repos{db: tx}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *repos) User() UserRepository {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.userRepo == nil {
		r.userRepo = NewUserRepository(r.db)
	}
	return r.userRepo
}

func (r *repos) Asset() AssetRepository {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.assetRepo == nil {
		r.assetRepo = NewAssetRepository(r.db)
	}
	return r.assetRepo
}

func (r *repos) Valuation() ValuationRepository {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.valuationRepo == nil {
		r.valuationRepo = NewValuationRepository(r.db)
	}
	return r.valuationRepo
}

func (r *repos) Application() ApplicationRepository {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.applicationRepo == nil {
		r.applicationRepo = NewApplicationRepository(r.db)
	}
	return r.applicationRepo
}

func (r *repos) Debtor() DebtorRepository {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.debtorRepo == nil {
		r.debtorRepo = NewDebtorRepository(r.db)
	}
	return r.debtorRepo
}

func (r *repos) Loan() LoanRepository {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loanRepo == nil {
		r.loanRepo = NewLoanRepository(r.db)
	}
	return r.loanRepo
}

func (r *repos) LoanTerm() LoanTermRepository {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.termRepo == nil {
		r.termRepo = NewLoanTermRepository(r.db)
	}
	return r.termRepo
}

func (r *repos) LoanPayment() LoanPaymentRepository {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loanPaymentRepo == nil {
		r.loanPaymentRepo = NewLoanPaymentRepository(r.db)
	}
	return r.loanPaymentRepo
}

func (r *repos) Auction() AuctionRepository {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auctionRepo == nil {
		r.auctionRepo = NewAuctionRepository(r.db)
	}
	return r.auctionRepo
}

func (r *repos) Bid() BidRepository {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bidRepo == nil {
		r.bidRepo = NewBidRepository(r.db)
	}
	return r.bidRepo
}

func (r *repos) BidPayment() BidPaymentRepository {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bidPaymentRepo == nil {
		r.bidPaymentRepo = NewBidPaymentRepository(r.db)
	}
	return r.bidPaymentRepo
}

func (r *repos) Audit() AuditRepository {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.auditRepo == nil {
		r.auditRepo = NewAuditRepository(r.db)
	}
	return r.auditRepo
}
