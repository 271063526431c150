package auth

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/mail"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aisu-os/core/pkg/apperr"
	"github.com/aisu-os/core/pkg/beta"
	"github.com/aisu-os/core/pkg/config"
	"github.com/aisu-os/core/pkg/log"
	"github.com/aisu-os/core/pkg/store"
	"github.com/aisu-os/core/pkg/types"
)

// maxAvatarSize bounds uploaded avatar files.
const maxAvatarSize = 5 << 20

// Service implements registration, login and profile lookups.
type Service struct {
	store  store.Store
	tokens *TokenIssuer
	beta   *beta.Service
	cfg    *config.Config
	logger zerolog.Logger
}

// NewService creates the auth service.
func NewService(st store.Store, tokens *TokenIssuer, betaSvc *beta.Service, cfg *config.Config) *Service {
	return &Service{
		store:  st,
		tokens: tokens,
		beta:   betaSvc,
		cfg:    cfg,
		logger: log.WithComponent("auth"),
	}
}

// RegisterInput is the multipart register form.
type RegisterInput struct {
	Email       string
	Username    string
	DisplayName string
	Password    string
	Avatar      *multipart.FileHeader
	AvatarEmoji string
	BetaToken   string
}

// RegisterResponse is the outward answer to a successful registration.
type RegisterResponse struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Wallpaper   string `json:"wallpaper,omitempty"`
}

// TokenResponse carries an issued bearer token.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// UsernameInfo is the public profile subset.
type UsernameInfo struct {
	AvatarURL   string `json:"avatar_url,omitempty"`
	DisplayName string `json:"display_name"`
	Wallpaper   string `json:"wallpaper,omitempty"`
}

// Register creates a new user after validating email shape, uniqueness, and
// (when required) the beta invite token.
func (s *Service) Register(input RegisterInput) (*RegisterResponse, error) {
	if _, err := mail.ParseAddress(input.Email); err != nil {
		return nil, apperr.New(apperr.ValidationFailed, "Invalid email format")
	}
	if input.Username == "" || input.Password == "" || input.DisplayName == "" {
		return nil, apperr.New(apperr.ValidationFailed, "username, display_name and password are required")
	}

	if s.cfg.Beta.Required {
		if input.BetaToken == "" {
			return nil, apperr.New(apperr.Forbidden, "Beta access token required")
		}
		if err := s.beta.Consume(input.BetaToken, input.Email); err != nil {
			return nil, err
		}
	}

	if _, err := s.store.GetUserByEmail(input.Email); err == nil {
		return nil, apperr.New(apperr.Conflict, "This email is already registered")
	}
	if _, err := s.store.GetUserByUsername(input.Username); err == nil {
		return nil, apperr.New(apperr.Conflict, "This username is already taken")
	}

	userID := uuid.New()

	avatarURL := ""
	if input.Avatar != nil {
		url, err := s.saveAvatar(input.Avatar, userID)
		if err != nil {
			return nil, err
		}
		avatarURL = url
	} else if input.AvatarEmoji != "" {
		avatarURL = input.AvatarEmoji
	}

	hashed, err := HashPassword(input.Password)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to hash password")
	}

	user := &types.User{
		ID:             userID,
		Email:          input.Email,
		Username:       input.Username,
		DisplayName:    input.DisplayName,
		HashedPassword: hashed,
		AvatarURL:      avatarURL,
		Role:           "user",
		IsActive:       true,
		CPU:            s.cfg.Users.CPU,
		DiskMB:         s.cfg.Users.DiskMB,
		Wallpaper:      s.cfg.Users.Wallpaper,
	}

	if err := s.store.CreateUser(user); err != nil {
		// The store enforces uniqueness too; map a lost race to Conflict.
		if strings.Contains(err.Error(), "already") {
			return nil, apperr.Wrap(err, apperr.Conflict, "User already exists")
		}
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to create user")
	}

	s.logger.Info().Str("user_id", userID.String()).Str("username", user.Username).Msg("user registered")

	return &RegisterResponse{
		Username:    user.Username,
		DisplayName: user.DisplayName,
		AvatarURL:   s.withFullURL(user.AvatarURL),
		Wallpaper:   user.Wallpaper,
	}, nil
}

// Login verifies credentials (username or email) and issues a token.
func (s *Service) Login(usernameOrEmail, password string) (*TokenResponse, error) {
	user, err := s.store.GetUserByUsername(usernameOrEmail)
	if err != nil {
		user, err = s.store.GetUserByEmail(usernameOrEmail)
	}
	if err != nil || !VerifyPassword(password, user.HashedPassword) {
		return nil, apperr.New(apperr.Unauthorized, "Invalid username or password")
	}

	if !user.IsActive {
		return nil, apperr.New(apperr.Forbidden, "Account is inactive")
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, "Failed to issue token")
	}

	return &TokenResponse{AccessToken: token, TokenType: "bearer"}, nil
}

// UserFromToken maps a bearer token to its user record.
func (s *Service) UserFromToken(token string) (*types.User, error) {
	userID, err := s.tokens.Decode(token)
	if err != nil {
		return nil, apperr.New(apperr.Unauthorized, "Invalid token")
	}

	user, err := s.store.GetUser(userID)
	if err != nil {
		return nil, apperr.New(apperr.Unauthorized, "User not found")
	}
	if !user.IsActive {
		return nil, apperr.New(apperr.Forbidden, "Account is inactive")
	}
	return user, nil
}

// GetUsernameInfo returns the public profile for a username.
func (s *Service) GetUsernameInfo(username string) (*UsernameInfo, error) {
	user, err := s.store.GetUserByUsername(username)
	if err != nil {
		return nil, apperr.New(apperr.NotFound, "User not found")
	}
	return &UsernameInfo{
		AvatarURL:   s.withFullURL(user.AvatarURL),
		DisplayName: user.DisplayName,
		Wallpaper:   user.Wallpaper,
	}, nil
}

// saveAvatar persists an uploaded avatar under the upload dir and returns
// its public path.
func (s *Service) saveAvatar(header *multipart.FileHeader, userID uuid.UUID) (string, error) {
	if header.Size > maxAvatarSize {
		return "", apperr.New(apperr.ValidationFailed, "Avatar too large (max %d bytes)", maxAvatarSize)
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp":
	default:
		return "", apperr.New(apperr.UnsupportedMedia, "Avatar must be an image file")
	}

	file, err := header.Open()
	if err != nil {
		return "", apperr.Wrap(err, apperr.Internal, "Failed to read avatar upload")
	}
	defer file.Close()

	dir := filepath.Join(s.cfg.UploadDir, "avatars")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", apperr.Wrap(err, apperr.Internal, "Failed to prepare upload directory")
	}

	filename := fmt.Sprintf("%s%s", userID.String(), ext)
	dst, err := os.Create(filepath.Join(dir, filename))
	if err != nil {
		return "", apperr.Wrap(err, apperr.Internal, "Failed to store avatar")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, io.LimitReader(file, maxAvatarSize)); err != nil {
		return "", apperr.Wrap(err, apperr.Internal, "Failed to store avatar")
	}

	return "/uploads/avatars/" + filename, nil
}

// withFullURL prefixes relative upload paths with the app URL.
func (s *Service) withFullURL(pathOrURL string) string {
	if pathOrURL == "" || strings.HasPrefix(pathOrURL, "http") {
		return pathOrURL
	}
	if !strings.HasPrefix(pathOrURL, "/") {
		// Emoji avatars pass through untouched.
		return pathOrURL
	}
	return strings.TrimRight(s.cfg.AppURL, "/") + pathOrURL
}
