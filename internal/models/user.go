package models

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

const (
	UserStatusPending   = "pending"
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
	UserStatusDeleted   = "deleted"
)

var UserMachine = Machine{
	UserStatusPending:   {UserStatusActive, UserStatusDeleted},
	UserStatusActive:    {UserStatusSuspended, UserStatusDeleted},
	UserStatusSuspended: {UserStatusActive, UserStatusDeleted},
}

const (
	OTPPurposeVerifyEmail     = "verify_email"
	OTPPurposeResetPassword   = "reset_password"
	OTPPurposeAccountDeletion = "account_deletion"
)

// User is the account record. Secret columns keep their json names so the
// audit port can recognise and strip them; API views never expose User directly.
type User struct {
	ID             string         `db:"id" json:"id"`
	Email          string         `db:"email" json:"email"`
	Phone          string         `db:"phone" json:"phone"`
	FullName       string         `db:"full_name" json:"full_name"`
	NationalID     sql.NullString `db:"national_id" json:"national_id"`
	Address        sql.NullString `db:"address" json:"address"`
	Roles          pq.StringArray `db:"roles" json:"roles"`
	Status         string         `db:"status" json:"status"`
	EmailVerified  bool           `db:"email_verified" json:"email_verified"`
	KYCDocs        pq.StringArray `db:"kyc_docs" json:"kyc_docs"`
	HashedPassword string         `db:"hashed_password" json:"password_hash"`
	OTPCode        sql.NullString `db:"otp_code" json:"otp_code"`
	OTPPurpose     sql.NullString `db:"otp_purpose" json:"otp_purpose"`
	OTPExpiresAt   sql.NullTime   `db:"otp_expires_at" json:"otp_expires_at"`
	AuthProviders  pq.StringArray `db:"auth_providers" json:"auth_providers"`
	LastLoginAt    sql.NullTime   `db:"last_login_at" json:"last_login_at"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
	DeletedAt      sql.NullTime   `db:"deleted_at" json:"deleted_at"`
}

type UserFilter struct {
	Status string
	Role   string
	Search string
	Limit  int
	Offset int
}
