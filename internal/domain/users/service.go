// Package users manages admin accounts, their invitations and sign-in.
package users

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/spaceplaces/server/internal/audit"
	"github.com/spaceplaces/server/internal/auth"
	"github.com/spaceplaces/server/internal/listing"
	"github.com/spaceplaces/server/internal/requestctx"
	"github.com/spaceplaces/server/internal/validation"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidToken       = errors.New("invalid or expired invitation token")
	ErrUserAlreadyActive  = errors.New("user is already active")
	ErrEmailTaken         = errors.New("email is already taken")
	ErrUsernameTaken      = errors.New("username is already taken")
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrForbidden is returned when the actor's role does not allow the action.
	ErrForbidden = errors.New("action requires a super admin")
	// ErrSelfAction blocks admins from deleting, deactivating or demoting
	// themselves.
	ErrSelfAction = errors.New("admins cannot perform this action on their own account")
)

// InvitationExpiry is how long an invitation link stays valid.
const InvitationExpiry = 7 * 24 * time.Hour

// InvitationEmail is handed to the job queue for delivery.
type InvitationEmail struct {
	To        string
	Link      string
	InvitedBy string
	ExpiresAt time.Time
}

type InvitationSender interface {
	EnqueueInvitation(ctx context.Context, msg InvitationEmail) error
}

type AuditRecorder interface {
	Record(ctx context.Context, action, resourceType string, resourceID int64, status string, details map[string]string)
}

type Service struct {
	repo    Repository
	mailer  InvitationSender
	audit   AuditRecorder
	baseURL string
	now     func() time.Time
	logger  zerolog.Logger
}

func NewService(repo Repository, mailer InvitationSender, auditLogger AuditRecorder, baseURL string, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		mailer:  mailer,
		audit:   auditLogger,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
		logger:  logger.With().Str("component", "users").Logger(),
	}
}

// InviteInput creates an inactive admin who activates through an emailed link.
type InviteInput struct {
	Username string `json:"username" validate:"required,min=3,max=50,alphanum"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Role     string `json:"role" validate:"omitempty,oneof=admin super_admin"`
}

// Authenticate checks credentials for an active account.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	user, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !user.IsActive || user.PasswordHash == "" || !auth.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	if err := s.repo.TouchLastLogin(ctx, user.ID); err != nil {
		s.logger.Warn().Err(err).Int64("user_id", user.ID).Msg("failed to record last login")
	}
	return user, nil
}

// Session reloads the account behind a session token so deactivation and
// role changes apply before the token expires.
func (s *Service) Session(ctx context.Context, id int64) (requestctx.Actor, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return requestctx.Actor{}, err
	}
	if !user.IsActive {
		return requestctx.Actor{}, ErrUserNotFound
	}
	return requestctx.Actor{ID: user.ID, Username: user.Username, Role: user.Role}, nil
}

func (s *Service) Get(ctx context.Context, actor requestctx.Actor, id int64) (*User, error) {
	if !auth.IsSuperAdmin(actor.Role) {
		return nil, ErrForbidden
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, actor requestctx.Actor, q listing.Query) ([]User, int, error) {
	if !auth.IsSuperAdmin(actor.Role) {
		return nil, 0, ErrForbidden
	}
	return s.repo.List(ctx, q)
}

// Invite creates the account and its first invitation in one transaction,
// then queues the email.
func (s *Service) Invite(ctx context.Context, actor requestctx.Actor, in InviteInput) (*User, error) {
	if !auth.IsSuperAdmin(actor.Role) {
		return nil, ErrForbidden
	}
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = string(auth.RoleAdmin)
	}

	user := &User{Username: in.Username, Email: in.Email, Role: in.Role}
	var token string
	var expiresAt time.Time
	err := s.repo.WithTx(ctx, func(tx Repository) error {
		if err := tx.Create(ctx, user); err != nil {
			return err
		}
		var err error
		token, expiresAt, err = s.issueInvitation(ctx, tx, user, actor.ID)
		return err
	})
	s.audit.Record(ctx, "user.invited", "user", user.ID, audit.Outcome(err), map[string]string{
		"username": in.Username,
		"role":     in.Role,
	})
	if err != nil {
		return nil, err
	}

	s.sendInvitation(ctx, user, token, actor.Username, expiresAt)
	return user, nil
}

// ResendInvitation invalidates any pending link and issues a fresh one.
func (s *Service) ResendInvitation(ctx context.Context, actor requestctx.Actor, id int64) error {
	if !auth.IsSuperAdmin(actor.Role) {
		return ErrForbidden
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if user.IsActive {
		return ErrUserAlreadyActive
	}

	var token string
	var expiresAt time.Time
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		if err := tx.InvalidateInvitations(ctx, id); err != nil {
			return err
		}
		var err error
		token, expiresAt, err = s.issueInvitation(ctx, tx, user, actor.ID)
		return err
	})
	s.audit.Record(ctx, "user.invitation_resent", "user", id, audit.Outcome(err), nil)
	if err != nil {
		return err
	}
	s.sendInvitation(ctx, user, token, actor.Username, expiresAt)
	return nil
}

func (s *Service) issueInvitation(ctx context.Context, tx Repository, user *User, createdBy int64) (string, time.Time, error) {
	token, err := generateSecureToken()
	if err != nil {
		return "", time.Time{}, err
	}
	inv := &Invitation{
		UserID:    user.ID,
		TokenHash: hashToken(token),
		Email:     user.Email,
		ExpiresAt: s.now().Add(InvitationExpiry),
	}
	if createdBy > 0 {
		inv.CreatedBy = &createdBy
	}
	if err := tx.CreateInvitation(ctx, inv); err != nil {
		return "", time.Time{}, fmt.Errorf("create invitation: %w", err)
	}
	return token, inv.ExpiresAt, nil
}

func (s *Service) sendInvitation(ctx context.Context, user *User, token, invitedBy string, expiresAt time.Time) {
	if invitedBy == "" {
		invitedBy = "Administrator"
	}
	msg := InvitationEmail{
		To:        user.Email,
		Link:      s.baseURL + "/accept-invitation?token=" + url.QueryEscape(token),
		InvitedBy: invitedBy,
		ExpiresAt: expiresAt,
	}
	if err := s.mailer.EnqueueInvitation(ctx, msg); err != nil {
		// The admin can resend; the account exists either way.
		s.logger.Error().Err(err).Int64("user_id", user.ID).Msg("failed to enqueue invitation email")
	}
}

// AcceptInvitation sets the password and activates the account. A token
// works once.
func (s *Service) AcceptInvitation(ctx context.Context, token, password string) (*User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	if err := auth.ValidatePassword(password); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	var userID int64
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		inv, err := tx.GetInvitationByTokenHash(ctx, hashToken(token))
		if err != nil {
			return err
		}
		if !inv.Usable(s.now()) {
			return ErrInvalidToken
		}
		userID = inv.UserID
		if err := tx.SetPassword(ctx, inv.UserID, hash); err != nil {
			return err
		}
		if err := tx.SetActive(ctx, inv.UserID, true); err != nil {
			return err
		}
		return tx.MarkInvitationAccepted(ctx, inv.ID)
	})
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, "user.invitation_accepted", "user", userID, audit.StatusSuccess, nil)
	return s.repo.GetByID(ctx, userID)
}

func (s *Service) ChangeRole(ctx context.Context, actor requestctx.Actor, id int64, role string) error {
	if !auth.IsSuperAdmin(actor.Role) {
		return ErrForbidden
	}
	if !auth.ValidRole(role) {
		return validation.FieldErrors{"role": "must be one of: admin super_admin"}
	}
	if id == actor.ID && role != string(auth.RoleSuperAdmin) {
		return ErrSelfAction
	}
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	err := s.repo.UpdateRole(ctx, id, role)
	s.audit.Record(ctx, "user.role_changed", "user", id, audit.Outcome(err), map[string]string{"role": role})
	return err
}

func (s *Service) Deactivate(ctx context.Context, actor requestctx.Actor, id int64) error {
	return s.setActive(ctx, actor, id, false)
}

func (s *Service) Activate(ctx context.Context, actor requestctx.Actor, id int64) error {
	return s.setActive(ctx, actor, id, true)
}

func (s *Service) setActive(ctx context.Context, actor requestctx.Actor, id int64, active bool) error {
	if !auth.IsSuperAdmin(actor.Role) {
		return ErrForbidden
	}
	if id == actor.ID {
		return ErrSelfAction
	}
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return err
	}
	err := s.repo.SetActive(ctx, id, active)
	action := "user.deactivated"
	if active {
		action = "user.activated"
	}
	s.audit.Record(ctx, action, "user", id, audit.Outcome(err), nil)
	return err
}

func (s *Service) Delete(ctx context.Context, actor requestctx.Actor, id int64) error {
	if !auth.IsSuperAdmin(actor.Role) {
		return ErrForbidden
	}
	if id == actor.ID {
		return ErrSelfAction
	}
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	err = s.repo.Delete(ctx, id)
	s.audit.Record(ctx, "user.deleted", "user", id, audit.Outcome(err), map[string]string{"username": user.Username})
	return err
}

// EnsureBootstrapAdmin creates an active super admin when username is free.
// It reports whether an account was created.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, username, password, email string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return false, nil
	}
	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return false, err
	}
	if err := auth.ValidatePassword(password); err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return false, err
	}
	user := &User{
		Username:     username,
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: hash,
		Role:         string(auth.RoleSuperAdmin),
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return false, err
	}
	s.logger.Info().Int64("user_id", user.ID).Str("username", username).Msg("bootstrap super admin created")
	return true, nil
}

// CleanupExpiredInvitations removes invitations that expired unaccepted.
func (s *Service) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredInvitations(ctx, s.now())
}

// generateSecureToken returns 32 random bytes as URL-safe base64.
func generateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
