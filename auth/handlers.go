package auth

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/parleyhq/parley/utils"
)

type registerPayload struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Language string `json:"language"`
}

type loginPayload struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RegisterHandler handles POST /register.
func RegisterHandler(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := &registerPayload{}
		if err := utils.DecodeAndValidateJSON(payload, r); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		user, err := service.Register(r.Context(), payload.Username, payload.Password, utils.GetLanguage(payload.Language))
		if err != nil {
			if errors.Is(err, ErrUserExists) {
				writeJSON(w, http.StatusConflict, map[string]string{"error": "username already taken"})
				return
			}
			logrus.WithField("comp", "auth").WithError(err).Error("failed to register user")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to register"})
			return
		}

		writeJSON(w, http.StatusCreated, user)
	}
}

// LoginHandler handles POST /login.
func LoginHandler(service *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := &loginPayload{}
		if err := utils.DecodeAndValidateJSON(payload, r); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		token, err := service.Login(r.Context(), payload.Username, payload.Password)
		if err != nil {
			if errors.Is(err, ErrInvalidCredentials) {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid username or password"})
				return
			}
			logrus.WithField("comp", "auth").WithError(err).Error("failed to log user in")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to log in"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithField("comp", "auth").WithError(err).Error("failed to write response")
	}
}
