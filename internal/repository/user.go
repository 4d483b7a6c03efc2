package repository

import (
	"context"
	"time"

	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type UserRepository interface {
	Insert(ctx context.Context, user *models.User) error
	GetOne(ctx context.Context, id string) (*models.User, bool, error)
	GetByEmail(ctx context.Context, email string) (*models.User, bool, error)
	GetForUpdate(ctx context.Context, id string) (*models.User, bool, error)
	Update(ctx context.Context, user *models.User) error
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
}

const userColumns = `id, email, phone, full_name, national_id, address, roles, status, email_verified,
	kyc_docs, hashed_password, otp_code, otp_purpose, otp_expires_at, auth_providers, last_login_at,
	created_at, updated_at, deleted_at`

type UserRepositoryImpl struct {
	db dbtx
}

func NewUserRepository(db dbtx) UserRepository {
	return &UserRepositoryImpl{db: db}
}

func (repo *UserRepositoryImpl) Insert(ctx context.Context, user *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.UpdatedAt = user.CreatedAt

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES (:id, :email, :phone, :full_name, :national_id, :address, :roles, :status, :email_verified,
			:kyc_docs, :hashed_password, :otp_code, :otp_purpose, :otp_expires_at, :auth_providers, :last_login_at,
			:created_at, :updated_at, :deleted_at)`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, user)
	return mapError(err, "user with this email")
}

func (repo *UserRepositoryImpl) get(ctx context.Context, query string, args ...any) (*models.User, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var user models.User
	if err := repo.db.GetContext(ctx, &user, query, args...); err != nil {
		if notFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &user, true, nil
}

func (repo *UserRepositoryImpl) GetOne(ctx context.Context, id string) (*models.User, bool, error) {
	return repo.get(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail only considers accounts that have not been deleted.
func (repo *UserRepositoryImpl) GetByEmail(ctx context.Context, email string) (*models.User, bool, error) {
	return repo.get(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1 AND status <> 'deleted'`, email)
}

func (repo *UserRepositoryImpl) GetForUpdate(ctx context.Context, id string) (*models.User, bool, error) {
	return repo.get(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id)
}

func (repo *UserRepositoryImpl) Update(ctx context.Context, user *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE users SET
			email = :email, phone = :phone, full_name = :full_name, national_id = :national_id,
			address = :address, roles = :roles, status = :status, email_verified = :email_verified,
			kyc_docs = :kyc_docs, hashed_password = :hashed_password, otp_code = :otp_code,
			otp_purpose = :otp_purpose, otp_expires_at = :otp_expires_at, auth_providers = :auth_providers,
			last_login_at = :last_login_at, updated_at = :updated_at, deleted_at = :deleted_at
		WHERE id = :id`

	_, err := sqlx.NamedExecContext(ctx, repo.db, query, user)
	return mapError(err, "user with this email")
}

func (repo *UserRepositoryImpl) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var c conditions
	c.addIf(filter.Status != "", "status = ?", filter.Status)
	c.addIf(filter.Status == "", "status <> ?", models.UserStatusDeleted)
	c.addIf(filter.Role != "", "? = ANY(roles)", filter.Role)
	c.addIf(filter.Search != "", "(LOWER(full_name) LIKE ? OR LOWER(email) LIKE ? OR phone LIKE ?)", like(filter.Search))

	var total int
	if err := repo.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`+c.where(), c.args...); err != nil {
		return nil, 0, err
	}

	suffix, args := c.page(filter.Limit, filter.Offset)
	users := []models.User{}
	query := `SELECT ` + userColumns + ` FROM users` + c.where() + ` ORDER BY created_at DESC` + suffix
	if err := repo.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, 0, err
	}
	return users, total, nil
}
