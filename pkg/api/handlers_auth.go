package api

import (
	"net/http"

	"github.com/aisu-os/core/pkg/apperr"
	"github.com/aisu-os/core/pkg/auth"
)

// maxRegisterForm bounds the multipart register body (avatar included).
const maxRegisterForm = 10 << 20

// handleRegister accepts the multipart registration form.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxRegisterForm); err != nil {
		writeError(w, apperr.New(apperr.ValidationFailed, "Invalid multipart form"))
		return
	}

	input := auth.RegisterInput{
		Email:       r.FormValue("email"),
		Username:    r.FormValue("username"),
		DisplayName: r.FormValue("display_name"),
		Password:    r.FormValue("password"),
		AvatarEmoji: r.FormValue("avatar_emoji"),
		BetaToken:   r.FormValue("beta_token"),
	}
	if files := r.MultipartForm.File["avatar"]; len(files) > 0 {
		input.Avatar = files[0]
	}

	resp, err := s.auth.Register(input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type loginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// handleLogin exchanges credentials for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	identity := req.Username
	if identity == "" {
		identity = req.Email
	}
	if identity == "" || req.Password == "" {
		writeError(w, apperr.New(apperr.ValidationFailed, "username (or email) and password are required"))
		return
	}

	resp, err := s.auth.Login(identity, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMe returns the authenticated user.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFrom(r.Context())
	if !ok {
		writeError(w, apperr.New(apperr.Unauthorized, "Not authenticated"))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleUsernameInfo returns the public profile for a username.
func (s *Server) handleUsernameInfo(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		writeError(w, apperr.New(apperr.ValidationFailed, "username query parameter is required"))
		return
	}

	info, err := s.auth.GetUsernameInfo(username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
