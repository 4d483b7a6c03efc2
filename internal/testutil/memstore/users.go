package memstore

import (
	"context"
	"slices"
	"strings"

	"github.com/cradoe/pawnbroker/internal/apperror"
	"github.com/cradoe/pawnbroker/internal/models"
	"github.com/cradoe/pawnbroker/internal/repository"
)

func (s *Store) User() repository.UserRepository { return userRepo{s} }

type userRepo struct{ s *Store }

func (r userRepo) emailTaken(email, exceptID string) bool {
	for _, u := range r.s.users.all() {
		if u.ID != exceptID && u.Status != models.UserStatusDeleted && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (r userRepo) Insert(_ context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	newID(&user.ID)
	if r.emailTaken(user.Email, user.ID) {
		return apperror.Duplicate("user with this email already exists")
	}
	r.s.users.put(user.ID, user)
	return nil
}

func (r userRepo) GetOne(_ context.Context, id string) (*models.User, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users.get(id)
	return u, ok, nil
}

func (r userRepo) GetForUpdate(ctx context.Context, id string) (*models.User, bool, error) {
	return r.GetOne(ctx, id)
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*models.User, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users.all() {
		if u.Status != models.UserStatusDeleted && strings.EqualFold(u.Email, email) {
			return u, true, nil
		}
	}
	return nil, false, nil
}

func (r userRepo) Update(_ context.Context, user *models.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if user.Status != models.UserStatusDeleted && r.emailTaken(user.Email, user.ID) {
		return apperror.Duplicate("user with this email already exists")
	}
	r.s.users.put(user.ID, user)
	return nil
}

func (r userRepo) List(_ context.Context, f models.UserFilter) ([]models.User, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []models.User
	for _, u := range r.s.users.all() {
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		if f.Status == "" && u.Status == models.UserStatusDeleted {
			continue
		}
		if f.Role != "" && !slices.Contains(u.Roles, f.Role) {
			continue
		}
		if f.Search != "" && !containsFold(u.FullName+" "+u.Email+" "+u.Phone, f.Search) {
			continue
		}
		out = append(out, *u)
	}
	sortDesc(out, func(u models.User) int64 { return u.CreatedAt.UnixNano() })
	return paginate(out, f.Limit, f.Offset), len(out), nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
