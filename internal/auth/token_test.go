package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	require.NoError(t, err)
	return token
}

func TestInspect(t *testing.T) {
	exp := time.Unix(1700000000, 0)

	tests := []struct {
		name    string
		token   string
		want    Claims
		wantErr bool
	}{
		{
			name:  "id and role",
			token: sign(t, jwt.MapClaims{"id": "u1", "role": "vendor", "exp": exp.Unix()}),
			want:  Claims{UserID: "u1", Role: "vendor", ExpiresAt: exp},
		},
		{
			name:  "userId claim",
			token: sign(t, jwt.MapClaims{"userId": "u2"}),
			want:  Claims{UserID: "u2"},
		},
		{
			name:  "subject fallback",
			token: sign(t, jwt.MapClaims{"sub": "u3", "role": "admin"}),
			want:  Claims{UserID: "u3", Role: "admin"},
		},
		{
			name:    "no user id",
			token:   sign(t, jwt.MapClaims{"role": "user"}),
			wantErr: true,
		},
		{
			name:    "not a token",
			token:   "secret",
			wantErr: true,
		},
		{
			name:    "bad expiry",
			token:   sign(t, jwt.MapClaims{"id": "u1", "exp": "tomorrow"}),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Inspect(tt.token)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.UserID, got.UserID)
			assert.Equal(t, tt.want.Role, got.Role)
			assert.True(t, tt.want.ExpiresAt.Equal(got.ExpiresAt), "expiry %v != %v", got.ExpiresAt, tt.want.ExpiresAt)
		})
	}
}
