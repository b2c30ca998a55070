package rpc

import (
	"context"
	"encoding/json"

	"ever/internal/admin/models"
	"ever/internal/admin/service"
	"ever/internal/store"
	dErrors "ever/pkg/domain-errors"
)

// adminFilter is the wire shape for count and find requests. Absent fields
// do not constrain the match.
type adminFilter struct {
	Email     *string `json:"email,omitempty"`
	Role      *string `json:"role,omitempty"`
	IsDeleted *bool   `json:"isDeleted,omitempty"`
}

func (f adminFilter) predicate() store.Predicate[models.Admin] {
	return func(a models.Admin) bool {
		if f.Email != nil && a.Email != *f.Email {
			return false
		}
		if f.Role != nil && a.Role != *f.Role {
			return false
		}
		if f.IsDeleted != nil && a.IsDeleted != *f.IsDeleted {
			return false
		}
		return true
	}
}

// adminPatch is the wire shape for updateById. Only present fields are
// applied; credential material and ids are never patchable over the wire.
type adminPatch struct {
	Email      *string `json:"email,omitempty"`
	FirstName  *string `json:"firstName,omitempty"`
	LastName   *string `json:"lastName,omitempty"`
	PictureURL *string `json:"pictureUrl,omitempty"`
	Role       *string `json:"role,omitempty"`
	IsDeleted  *bool   `json:"isDeleted,omitempty"`
}

func (p adminPatch) apply(a models.Admin) models.Admin {
	if p.Email != nil {
		a.Email = *p.Email
	}
	if p.FirstName != nil {
		a.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		a.LastName = *p.LastName
	}
	if p.PictureURL != nil {
		a.PictureURL = *p.PictureURL
	}
	if p.Role != nil {
		a.Role = *p.Role
	}
	if p.IsDeleted != nil {
		a.IsDeleted = *p.IsDeleted
	}
	return a
}

type loginResponse struct {
	Admin models.Admin `json:"admin"`
	Token string       `json:"token"`
}

// RegisterAdminMethods binds the admin identity operations into the method
// table. This is the single place the service surface is exposed; adding a
// method here is what makes it callable.
func RegisterAdminMethods(r *Registry, admins *service.Service) {
	r.Stream("admin.get", true, func(ctx context.Context, payload json.RawMessage, send func(any) error) error {
		var req struct {
			ID string `json:"id"`
		}
		if err := decode(payload, &req); err != nil {
			return err
		}
		updates, cancel, err := admins.Get(ctx, req.ID)
		if err != nil {
			return err
		}
		defer cancel()
		for update := range updates {
			if update.Err != nil {
				return update.Err
			}
			if err := send(update.Admin); err != nil {
				return nil
			}
		}
		return nil
	})

	r.Unary("admin.getByEmail", true, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Email string `json:"email"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return admins.GetByEmail(ctx, req.Email)
	})

	r.Unary("admin.register", false, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			models.Admin
			Password string `json:"password,omitempty"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return admins.Register(ctx, models.RegistrationInput{Admin: req.Admin, Password: req.Password})
	})

	r.Unary("admin.login", false, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		result, err := admins.Login(ctx, req.Email, req.Password)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		return loginResponse{Admin: result.Entity, Token: result.Token}, nil
	})

	r.Unary("admin.isAuthenticated", false, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			Token string `json:"token"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return admins.IsAuthenticated(ctx, req.Token), nil
	})

	r.Unary("admin.updatePassword", true, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			ID              string `json:"id"`
			CurrentPassword string `json:"currentPassword"`
			NewPassword     string `json:"newPassword"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		if err := admins.UpdatePassword(ctx, req.ID, req.CurrentPassword, req.NewPassword); err != nil {
			return nil, err
		}
		return struct{}{}, nil
	})

	r.Unary("admin.updateById", true, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var req struct {
			ID    string     `json:"id"`
			Patch adminPatch `json:"patch"`
		}
		if err := decode(payload, &req); err != nil {
			return nil, err
		}
		return admins.UpdateByID(ctx, req.ID, req.Patch.apply)
	})

	r.Unary("admin.count", true, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var filter adminFilter
		if err := decode(payload, &filter); err != nil {
			return nil, err
		}
		n, err := admins.Count(ctx, filter.predicate())
		if err != nil {
			return nil, err
		}
		return struct {
			Count int `json:"count"`
		}{Count: n}, nil
	})

	r.Unary("admin.find", true, func(ctx context.Context, payload json.RawMessage) (any, error) {
		var filter adminFilter
		if err := decode(payload, &filter); err != nil {
			return nil, err
		}
		return admins.Find(ctx, filter.predicate())
	})
}

func decode(payload json.RawMessage, into any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, into); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "malformed request payload")
	}
	return nil
}
