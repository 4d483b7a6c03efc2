package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/cradoe/gopass"
	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/notify"
	"github.com/cradoe/pawnbroker/internal/repository"
	"github.com/cradoe/pawnbroker/internal/validator"
	"github.com/lib/pq"
	"github.com/pascaldekloe/jwt"
)

// UserView is the only shape of a user that leaves the core.
type UserView struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Phone         string     `json:"phone"`
	FullName      string     `json:"full_name"`
	NationalID    string     `json:"national_id,omitempty"`
	Address       string     `json:"address,omitempty"`
	Roles         []string   `json:"roles"`
	Status        string     `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	KYCDocs       []string   `json:"kyc_docs"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

func ViewOfUser(u *models.User) *UserView {
	v := &UserView{
		ID:            u.ID,
		Email:         u.Email,
		Phone:         u.Phone,
		FullName:      u.FullName,
		NationalID:    u.NationalID.String,
		Address:       u.Address.String,
		Roles:         append([]string{}, u.Roles...),
		Status:        u.Status,
		EmailVerified: u.EmailVerified,
		KYCDocs:       append([]string{}, u.KYCDocs...),
		CreatedAt:     u.CreatedAt,
	}
	if u.LastLoginAt.Valid {
		t := u.LastLoginAt.Time
		v.LastLoginAt = &t
	}
	return v
}

type UserService struct {
	*core
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func checkPassword(v *validator.Validator, password string) {
	_, errs := gopass.Validate(password)
	for _, e := range errs {
		v.AddError(fmt.Sprint(e))
	}
}

func otpCode() string {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return fmt.Sprintf("%06d", time.Now().UnixNano()%1000000)
	}
	return fmt.Sprintf("%06d", n.Int64())
}

func (s *UserService) setOTP(u *models.User, purpose string) string {
	code := otpCode()
	u.OTPCode = sql.NullString{String: code, Valid: true}
	u.OTPPurpose = sql.NullString{String: purpose, Valid: true}
	u.OTPExpiresAt = sql.NullTime{Time: s.now().Add(s.Config.OTPTTL), Valid: true}
	return code
}

func (s *UserService) consumeOTP(u *models.User, purpose, code string) error {
	if !u.OTPCode.Valid || u.OTPPurpose.String != purpose || u.OTPCode.String != strings.TrimSpace(code) {
		return apperror.FieldInvalid("code", "Invalid or expired code")
	}
	if s.now().After(u.OTPExpiresAt.Time) {
		return apperror.FieldInvalid("code", "Invalid or expired code")
	}
	u.OTPCode = sql.NullString{}
	u.OTPPurpose = sql.NullString{}
	u.OTPExpiresAt = sql.NullTime{}
	return nil
}

type RegisterInput struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	Phone      string `json:"phone"`
	NationalID string `json:"national_id"`
}

// Register creates a pending customer and emails a verification code.
func (s *UserService) Register(ctx context.Context, actor models.Actor, in RegisterInput) (*UserView, error) {
	in.Email = normalizeEmail(in.Email)

	var v validator.Validator
	v.CheckField(validator.NotBlank(in.Email), "email", "Email is required")
	v.CheckField(validator.IsEmail(in.Email), "email", "Must be a valid email address")
	v.CheckField(validator.MinRunes(strings.TrimSpace(in.FullName), 3), "full_name", "Full name is too short")
	v.CheckField(validator.Matches(in.Phone, validator.RgxPhoneNumber), "phone", "Phone number must be in international format")
	checkPassword(&v, in.Password)
	if err := v.Err(); err != nil {
		return nil, err
	}

	hashed, err := gopass.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &models.User{
		Email:          in.Email,
		Phone:          in.Phone,
		FullName:       strings.TrimSpace(in.FullName),
		NationalID:     nullString(in.NationalID),
		Roles:          pq.StringArray{models.RoleCustomer},
		Status:         models.UserStatusPending,
		KYCDocs:        pq.StringArray{},
		HashedPassword: hashed,
		AuthProviders:  pq.StringArray{"password"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	code := s.setOTP(user, models.OTPPurposeVerifyEmail)

	err = s.DB.WithinTx(ctx, func(st repository.Store) error {
		if _, found, err := st.User().GetByEmail(ctx, user.Email); err != nil {
			return err
		} else if found {
			return apperror.Duplicate("Email is already in use")
		}
		if err := st.User().Insert(ctx, user); err != nil {
			return err
		}
		actor.ID = user.ID
		actor.Roles = []string{models.RoleCustomer}
		return s.record(ctx, st, actor, change{Action: "user.register", EntityType: models.EntityUser, EntityID: user.ID, After: user})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notify.Notification{
		Event:     "user.register",
		Recipient: user.Email,
		Template:  "otp.tmpl",
		Data:      map[string]any{"Name": user.FullName, "Code": code, "ExpiresIn": s.Config.OTPTTL.String()},
	})
	return ViewOfUser(user), nil
}

// mutate runs fn on the locked user row and journals the result as action.
func (s *UserService) mutate(ctx context.Context, actor models.Actor, st repository.Store, user *models.User, action string, fn func(u *models.User) error) error {
	before := *user
	if err := fn(user); err != nil {
		return err
	}
	user.UpdatedAt = s.now()
	if err := st.User().Update(ctx, user); err != nil {
		return err
	}
	if actor.ID == "" {
		actor.ID = user.ID
		actor.Roles = user.Roles
	}
	return s.record(ctx, st, actor, change{Action: action, EntityType: models.EntityUser, EntityID: user.ID, Before: &before, After: user})
}

func (s *UserService) byEmailForUpdate(ctx context.Context, st repository.Store, email string) (*models.User, error) {
	u, found, err := st.User().GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("user")
	}
	u, found, err = st.User().GetForUpdate(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperror.NotFound("user")
	}
	return u, nil
}

func (s *UserService) VerifyEmail(ctx context.Context, actor models.Actor, email, code string) (*UserView, error) {
	var user *models.User
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		u, err := s.byEmailForUpdate(ctx, st, email)
		if err != nil {
			return err
		}
		user = u
		return s.mutate(ctx, actor, st, u, "user.verify_email", func(u *models.User) error {
			if u.Status != models.UserStatusPending {
				return apperror.InvalidState("Email is already verified")
			}
			if err := s.consumeOTP(u, models.OTPPurposeVerifyEmail, code); err != nil {
				return err
			}
			u.EmailVerified = true
			u.Status = models.UserStatusActive
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notify.Notification{Event: "user.verify_email", Recipient: user.Email, Template: "welcome.tmpl", Data: map[string]any{"Name": user.FullName}})
	return ViewOfUser(user), nil
}

type Token struct {
	Token     string    `json:"auth_token"`
	ExpiresAt time.Time `json:"token_expiry"`
}

// Login checks the credentials of an active user and issues an HMAC-signed JWT.
func (s *UserService) Login(ctx context.Context, actor models.Actor, email, password string) (*Token, *UserView, error) {
	var v validator.Validator
	v.CheckField(validator.NotBlank(email), "email", "Email is required")
	v.CheckField(validator.NotBlank(password), "password", "Password is required")
	if err := v.Err(); err != nil {
		return nil, nil, err
	}

	invalid := apperror.Unauthenticated("Incorrect email/password")

	var user *models.User
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		u, err := s.byEmailForUpdate(ctx, st, email)
		if apperror.KindOf(err) == apperror.KindNotFound {
			return invalid
		}
		if err != nil {
			return err
		}

		ok, err := gopass.ComparePasswordAndHash(password, u.HashedPassword)
		if err != nil {
			return err
		}
		if !ok {
			return invalid
		}
		if u.Status != models.UserStatusActive {
			return apperror.Forbidden("Account is not active. Please verify your email or contact support")
		}

		user = u
		return s.mutate(ctx, actor, st, u, "user.login", func(u *models.User) error {
			u.LastLoginAt = sql.NullTime{Time: s.now(), Valid: true}
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}

	token, err := s.IssueToken(user.ID)
	if err != nil {
		return nil, nil, err
	}
	return token, ViewOfUser(user), nil
}

func (s *UserService) IssueToken(userID string) (*Token, error) {
	now := s.now()
	expiry := now.Add(s.Config.Jwt.TTL)

	var claims jwt.Claims
	claims.Subject = userID
	claims.Issued = jwt.NewNumericTime(now)
	claims.NotBefore = jwt.NewNumericTime(now)
	claims.Expires = jwt.NewNumericTime(expiry)
	claims.Issuer = s.Config.Jwt.Issuer
	claims.Audiences = []string{s.Config.Jwt.Issuer}

	b, err := claims.HMACSign(jwt.HS256, []byte(s.Config.Jwt.SecretKey))
	if err != nil {
		return nil, err
	}
	return &Token{Token: string(b), ExpiresAt: expiry}, nil
}

// ForgotPassword emails a reset code. Unknown emails succeed silently.
func (s *UserService) ForgotPassword(ctx context.Context, actor models.Actor, email string) error {
	var (
		user *models.User
		code string
	)
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		u, err := s.byEmailForUpdate(ctx, st, email)
		if err != nil {
			return err
		}
		if u.Status == models.UserStatusDeleted || u.Status == models.UserStatusSuspended {
			return apperror.NotFound("user")
		}
		user = u
		return s.mutate(ctx, actor, st, u, "user.forgot_password", func(u *models.User) error {
			code = s.setOTP(u, models.OTPPurposeResetPassword)
			return nil
		})
	})
	if apperror.KindOf(err) == apperror.KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	s.notify(ctx, notify.Notification{
		Event:     "user.forgot_password",
		Recipient: user.Email,
		Template:  "otp.tmpl",
		Data:      map[string]any{"Name": user.FullName, "Code": code, "ExpiresIn": s.Config.OTPTTL.String()},
	})
	return nil
}

func (s *UserService) ResetPassword(ctx context.Context, actor models.Actor, email, code, password string) error {
	var v validator.Validator
	checkPassword(&v, password)
	if err := v.Err(); err != nil {
		return err
	}
	hashed, err := gopass.Hash(password)
	if err != nil {
		return err
	}

	return s.DB.WithinTx(ctx, func(st repository.Store) error {
		u, err := s.byEmailForUpdate(ctx, st, email)
		if apperror.KindOf(err) == apperror.KindNotFound {
			return apperror.FieldInvalid("code", "Invalid or expired code")
		}
		if err != nil {
			return err
		}
		return s.mutate(ctx, actor, st, u, "user.reset_password", func(u *models.User) error {
			if err := s.consumeOTP(u, models.OTPPurposeResetPassword, code); err != nil {
				return err
			}
			u.HashedPassword = hashed
			return nil
		})
	})
}

func (s *UserService) lockSelf(ctx context.Context, st repository.Store, id string) (*models.User, error) {
	u, found, err := st.User().GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found || u.Status == models.UserStatusDeleted {
		return nil, apperror.NotFound("user")
	}
	return u, nil
}

func (s *UserService) RequestAccountDeletion(ctx context.Context, actor models.Actor) error {
	var (
		user *models.User
		code string
	)
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		u, err := s.lockSelf(ctx, st, actor.ID)
		if err != nil {
			return err
		}
		user = u
		return s.mutate(ctx, actor, st, u, "user.request_deletion", func(u *models.User) error {
			code = s.setOTP(u, models.OTPPurposeAccountDeletion)
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.notify(ctx, notify.Notification{
		Event:     "user.request_deletion",
		Recipient: user.Email,
		Template:  "otp.tmpl",
		Data:      map[string]any{"Name": user.FullName, "Code": code, "ExpiresIn": s.Config.OTPTTL.String()},
	})
	return nil
}

func (s *UserService) ConfirmAccountDeletion(ctx context.Context, actor models.Actor, code string) error {
	return s.DB.WithinTx(ctx, func(st repository.Store) error {
		u, err := s.lockSelf(ctx, st, actor.ID)
		if err != nil {
			return err
		}
		return s.mutate(ctx, actor, st, u, "user.delete", func(u *models.User) error {
			if err := s.consumeOTP(u, models.OTPPurposeAccountDeletion, code); err != nil {
				return err
			}
			s.anonymize(u)
			return nil
		})
	})
}

// anonymize soft-deletes the account: the email is freed for reuse and PII is cleared.
func (s *UserService) anonymize(u *models.User) {
	u.Status = models.UserStatusDeleted
	u.Email = fmt.Sprintf("deleted+%s@invalid", u.ID)
	u.Phone = ""
	u.FullName = "Deleted user"
	u.NationalID = sql.NullString{}
	u.Address = sql.NullString{}
	u.KYCDocs = pq.StringArray{}
	u.OTPCode = sql.NullString{}
	u.OTPPurpose = sql.NullString{}
	u.OTPExpiresAt = sql.NullTime{}
	u.DeletedAt = sql.NullTime{Time: s.now(), Valid: true}
}

func (s *UserService) Me(ctx context.Context, actor models.Actor) (*UserView, error) {
	return s.Get(ctx, actor, actor.ID)
}

func (s *UserService) Get(ctx context.Context, actor models.Actor, id string) (*UserView, error) {
	if actor.ID != id && !actor.IsStaff() {
		return nil, apperror.Forbidden("")
	}
	u, found, err := s.DB.User().GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found || u.Status == models.UserStatusDeleted {
		return nil, apperror.NotFound("user")
	}
	return ViewOfUser(u), nil
}

type ProfileInput struct {
	FullName   *string  `json:"full_name"`
	Phone      *string  `json:"phone"`
	NationalID *string  `json:"national_id"`
	Address    *string  `json:"address"`
	KYCDocs    []string `json:"kyc_docs"`
}

func (s *UserService) UpdateMe(ctx context.Context, actor models.Actor, in ProfileInput) (*UserView, error) {
	var v validator.Validator
	if in.FullName != nil {
		v.CheckField(validator.MinRunes(strings.TrimSpace(*in.FullName), 3), "full_name", "Full name is too short")
	}
	if in.Phone != nil {
		v.CheckField(validator.Matches(*in.Phone, validator.RgxPhoneNumber), "phone", "Phone number must be in international format")
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	var user *models.User
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		u, err := s.lockSelf(ctx, st, actor.ID)
		if err != nil {
			return err
		}
		user = u
		return s.mutate(ctx, actor, st, u, "user.update", func(u *models.User) error {
			if in.FullName != nil {
				u.FullName = strings.TrimSpace(*in.FullName)
			}
			if in.Phone != nil {
				u.Phone = *in.Phone
			}
			if in.NationalID != nil {
				u.NationalID = nullString(*in.NationalID)
			}
			if in.Address != nil {
				u.Address = nullString(*in.Address)
			}
			if in.KYCDocs != nil {
				u.KYCDocs = pq.StringArray(in.KYCDocs)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ViewOfUser(user), nil
}

func (s *UserService) List(ctx context.Context, actor models.Actor, filter models.UserFilter) ([]*UserView, int, error) {
	if !actor.IsAdmin() && !actor.HasAnyRole(models.RoleManagement) {
		return nil, 0, apperror.Forbidden("")
	}
	filter.Limit, filter.Offset = pageOf(filter.Limit, filter.Offset)

	users, total, err := s.DB.User().List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*UserView, len(users))
	for i := range users {
		out[i] = ViewOfUser(&users[i])
	}
	return out, total, nil
}

// UpdateStatus is the admin path through the user machine; deleted anonymizes.
func (s *UserService) UpdateStatus(ctx context.Context, actor models.Actor, id, status string) (*UserView, error) {
	if !actor.IsAdmin() {
		return nil, apperror.Forbidden("")
	}
	if id == actor.ID {
		return nil, apperror.BusinessRule("You cannot change your own account status")
	}

	var user *models.User
	err := s.DB.WithinTx(ctx, func(st repository.Store) error {
		u, err := s.lockSelf(ctx, st, id)
		if err != nil {
			return err
		}
		user = u
		return s.mutate(ctx, actor, st, u, "user.status", func(u *models.User) error {
			if !models.UserMachine.Can(u.Status, status) {
				return apperror.InvalidTransition("user", u.Status, status)
			}
			if status == models.UserStatusDeleted {
				s.anonymize(u)
				return nil
			}
			u.Status = status
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ViewOfUser(user), nil
}

type StaffInput struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	FullName string   `json:"full_name"`
	Phone    string   `json:"phone"`
	Roles    []string `json:"roles"`
}

// CreateStaff adds an active account; only a super admin can grant admin roles.
func (s *UserService) CreateStaff(ctx context.Context, actor models.Actor, in StaffInput) (*UserView, error) {
	if !actor.IsAdmin() {
		return nil, apperror.Forbidden("")
	}
	in.Email = normalizeEmail(in.Email)

	var v validator.Validator
	v.CheckField(validator.IsEmail(in.Email), "email", "Must be a valid email address")
	v.CheckField(validator.MinRunes(strings.TrimSpace(in.FullName), 3), "full_name", "Full name is too short")
	v.CheckField(validator.Matches(in.Phone, validator.RgxPhoneNumber), "phone", "Phone number must be in international format")
	v.CheckField(models.ValidRoles(in.Roles), "roles", "Roles must be a non-empty list of known roles")
	checkPassword(&v, in.Password)
	if err := v.Err(); err != nil {
		return nil, err
	}
	if !actor.HasAnyRole(models.RoleSuperAdmin) && (slices.Contains(in.Roles, models.RoleSuperAdmin) || slices.Contains(in.Roles, models.RoleAdmin)) {
		return nil, apperror.Forbidden("Only a super admin can create administrators")
	}

	hashed, err := gopass.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.now()
	user := &models.User{
		Email:          in.Email,
		Phone:          in.Phone,
		FullName:       strings.TrimSpace(in.FullName),
		Roles:          pq.StringArray(in.Roles),
		Status:         models.UserStatusActive,
		EmailVerified:  true,
		KYCDocs:        pq.StringArray{},
		HashedPassword: hashed,
		AuthProviders:  pq.StringArray{"password"},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.DB.WithinTx(ctx, func(st repository.Store) error {
		if _, found, err := st.User().GetByEmail(ctx, user.Email); err != nil {
			return err
		} else if found {
			return apperror.Duplicate("Email is already in use")
		}
		if err := st.User().Insert(ctx, user); err != nil {
			return err
		}
		return s.record(ctx, st, actor, change{Action: "user.create", EntityType: models.EntityUser, EntityID: user.ID, After: user})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, notify.Notification{Event: "user.create", Recipient: user.Email, Template: "welcome.tmpl", Data: map[string]any{"Name": user.FullName}})
	return ViewOfUser(user), nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}
