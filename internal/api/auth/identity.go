package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

// ErrUnauthorized is returned when no identity can be resolved from the
// request credentials
var ErrUnauthorized = errors.New("unauthorized")

// IdentityKind classifies the resolved caller for one request
type IdentityKind string

const (
	IdentityUser    IdentityKind = "user"
	IdentityDevice  IdentityKind = "device"
	IdentityShelter IdentityKind = "shelter"
)

// Identity is the resolved caller classification: exactly one of a user,
// an anonymous device, or a shelter. A UserIdentity may additionally carry
// the device key the client presented alongside its token; the
// conversation claim flow uses it to merge anonymous history.
type Identity struct {
	Kind      IdentityKind
	UserID    int64
	ShelterID int64
	DeviceKey string
	UserName  string
}

// IsUser reports whether the identity is an authenticated user
func (id Identity) IsUser() bool { return id.Kind == IdentityUser }

// IsDevice reports whether the identity is an anonymous device
func (id Identity) IsDevice() bool { return id.Kind == IdentityDevice }

// IsShelter reports whether the identity is a shelter
func (id Identity) IsShelter() bool { return id.Kind == IdentityShelter }

// Credentials is the abstract bag of request credentials the resolver
// works from
type Credentials struct {
	BearerToken    string
	ShelterToken   string
	DeviceKey      string
	FallbackUserID string // X-User-Id header, verified against the user table
}

// CredentialsFromRequest extracts the credential headers from a request
func CredentialsFromRequest(c echo.Context) Credentials {
	creds := Credentials{
		ShelterToken:   strings.TrimSpace(c.Request().Header.Get("X-Shelter-Token")),
		DeviceKey:      strings.TrimSpace(c.Request().Header.Get("X-Device-Key")),
		FallbackUserID: strings.TrimSpace(c.Request().Header.Get("X-User-Id")),
	}

	authHeader := c.Request().Header.Get("Authorization")
	if authHeader != "" {
		// Bearer <token>; a bare token is accepted too
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			creds.BearerToken = strings.TrimSpace(parts[1])
		} else {
			creds.BearerToken = strings.TrimSpace(authHeader)
		}
	}

	return creds
}

// Resolver resolves request credentials into a single tagged identity.
// The verification hooks are injected so the precedence logic stays a pure
// function of its inputs.
type Resolver struct {
	VerifyUserToken    func(token string) (userID int64, userName string, err error)
	VerifyShelterToken func(token string) (shelterID int64, err error)
	UserExists         func(ctx context.Context, userID int64) (bool, error) // optional
}

// NewResolver builds a resolver on top of the token service and an
// optional user-existence check for the X-User-Id fallback path
func NewResolver(ts *TokenService, userExists func(ctx context.Context, userID int64) (bool, error)) *Resolver {
	return &Resolver{
		VerifyUserToken: func(token string) (int64, string, error) {
			user, err := ts.ValidateAccessToken(token)
			if err != nil {
				return 0, "", err
			}
			return user.ID, user.Name, nil
		},
		VerifyShelterToken: ts.ValidateShelterToken,
		UserExists:         userExists,
	}
}

// Resolve produces exactly one identity from the credentials, by fixed
// precedence: shelter token, then bearer token, then X-User-Id fallback,
// then device key. Invalid or malformed credentials at one tier are
// treated as absent and resolution falls through to the next; only a
// fully empty bag fails.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (Identity, error) {
	if creds.ShelterToken != "" && r.VerifyShelterToken != nil {
		if shelterID, err := r.VerifyShelterToken(creds.ShelterToken); err == nil {
			return Identity{Kind: IdentityShelter, ShelterID: shelterID}, nil
		}
	}

	if creds.BearerToken != "" && r.VerifyUserToken != nil {
		if userID, userName, err := r.VerifyUserToken(creds.BearerToken); err == nil {
			return Identity{
				Kind:      IdentityUser,
				UserID:    userID,
				UserName:  userName,
				DeviceKey: creds.DeviceKey,
			}, nil
		}
	}

	if creds.FallbackUserID != "" && r.UserExists != nil {
		// A malformed id is treated as an absent header, not an error
		if userID, err := strconv.ParseInt(creds.FallbackUserID, 10, 64); err == nil && userID > 0 {
			if exists, err := r.UserExists(ctx, userID); err == nil && exists {
				return Identity{
					Kind:      IdentityUser,
					UserID:    userID,
					DeviceKey: creds.DeviceKey,
				}, nil
			}
		}
	}

	if creds.DeviceKey != "" {
		return Identity{Kind: IdentityDevice, DeviceKey: creds.DeviceKey}, nil
	}

	return Identity{}, ErrUnauthorized
}
