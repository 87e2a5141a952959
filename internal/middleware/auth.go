package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/pmichalski/copydesk/internal/auth"
	"github.com/pmichalski/copydesk/internal/errs"
	"github.com/pmichalski/copydesk/internal/model"
)

type Storage interface {
	GetCustomerByID(ctx context.Context, id int) (model.Customer, error)
}

type contextKey string

const CustomerContextKey contextKey = "customer"

func AuthMiddleware(store Storage, tm *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
			customerID, err := tm.ParseToken(tokenStr)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			customer, err := store.GetCustomerByID(r.Context(), customerID)
			if err != nil {
				if errors.Is(err, errs.ErrCustomerNotFound) {
					http.Error(w, "unauthorized", http.StatusUnauthorized)
					return
				}
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			ctx := context.WithValue(r.Context(), CustomerContextKey, customer)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
