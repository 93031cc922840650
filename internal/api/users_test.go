package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawmatch/internal/api/auth"
	"github.com/pawmatch/pkg/models"
)

func newUserTestServer(t *testing.T, db *sql.DB) *Server {
	t.Helper()

	e := echo.New()
	e.Validator = &requestValidator{validate: validator.New()}

	return &Server{
		echo:         e,
		db:           db,
		tokenService: auth.NewTokenService(db, "test-secret", "test-shelter-secret"),
		users:        NewUsersRepo(db),
	}
}

func newJSONContext(e *echo.Echo, method, body string, headers map[string]string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestUserTokenEndpoints(t *testing.T) {
	db := openTestDB(t)
	s := newUserTestServer(t, db)

	userID := insertTestUser(t, db, "Session User")
	t.Cleanup(func() {
		db.Exec("DELETE FROM auth_tokens WHERE user_id = $1", userID)
	})
	user := &models.User{ID: userID, Email: fmt.Sprintf("session-%s@test.local", uniqueSuffix())}

	t.Run("RefreshRequiresToken", func(t *testing.T) {
		c, _ := newJSONContext(s.echo, http.MethodPost, `{}`, nil)
		err := s.refreshUserToken(c)

		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadRequest, httpErr.Code)
	})

	t.Run("RefreshRotatesPair", func(t *testing.T) {
		pair, err := s.tokenService.CreateTokenPair(user, "go-test", "127.0.0.1")
		require.NoError(t, err)

		c, rec := newJSONContext(s.echo, http.MethodPost,
			fmt.Sprintf(`{"refresh_token": %q}`, pair.RefreshToken), nil)
		require.NoError(t, s.refreshUserToken(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var next auth.TokenPair
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
		assert.NotEmpty(t, next.AccessToken)
		assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

		// The spent refresh token is rejected
		c, _ = newJSONContext(s.echo, http.MethodPost,
			fmt.Sprintf(`{"refresh_token": %q}`, pair.RefreshToken), nil)
		err = s.refreshUserToken(c)

		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	})

	t.Run("LogoutRequiresBearer", func(t *testing.T) {
		c, _ := newJSONContext(s.echo, http.MethodPost, "", nil)
		err := s.logoutUser(c)

		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadRequest, httpErr.Code)
	})

	t.Run("LogoutRevokesSession", func(t *testing.T) {
		pair, err := s.tokenService.CreateTokenPair(user, "go-test", "127.0.0.1")
		require.NoError(t, err)

		c, rec := newJSONContext(s.echo, http.MethodPost,
			fmt.Sprintf(`{"refresh_token": %q}`, pair.RefreshToken),
			map[string]string{"Authorization": "Bearer " + pair.AccessToken})
		require.NoError(t, s.logoutUser(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		_, err = s.tokenService.ValidateAccessToken(pair.AccessToken)
		assert.Error(t, err, "a logged-out session must not validate")

		_, err = s.tokenService.RefreshTokenPair(pair.RefreshToken, "go-test", "127.0.0.1")
		assert.Error(t, err, "the surrendered refresh token must not refresh")
	})

	t.Run("LogoutAllRevokesEverySession", func(t *testing.T) {
		first, err := s.tokenService.CreateTokenPair(user, "go-test", "127.0.0.1")
		require.NoError(t, err)
		second, err := s.tokenService.CreateTokenPair(user, "go-test", "127.0.0.1")
		require.NoError(t, err)

		c, rec := newJSONContext(s.echo, http.MethodPost, `{"logout_all": true}`,
			map[string]string{"Authorization": "Bearer " + first.AccessToken})
		require.NoError(t, s.logoutUser(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		_, err = s.tokenService.ValidateAccessToken(first.AccessToken)
		assert.Error(t, err)
		_, err = s.tokenService.ValidateAccessToken(second.AccessToken)
		assert.Error(t, err)
	})
}

func TestUserReadEndpoints(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	s := newUserTestServer(t, db)

	userID := insertTestUser(t, db, "Readable User")

	t.Run("List", func(t *testing.T) {
		c, rec := newJSONContext(s.echo, http.MethodGet, "", nil)
		require.NoError(t, s.listUsers(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var users []*models.User
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))

		found := false
		for _, u := range users {
			if u.ID == userID {
				found = true
			}
		}
		assert.True(t, found, "the inserted user must be listed")
	})

	t.Run("PreferencesEmpty", func(t *testing.T) {
		c, rec := newJSONContext(s.echo, http.MethodGet, "", nil)
		c.SetParamNames("id")
		c.SetParamValues(fmt.Sprintf("%d", userID))
		require.NoError(t, s.getUserPreferences(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"preferences": null}`, rec.Body.String())
	})

	t.Run("PreferencesRoundTrip", func(t *testing.T) {
		_, err := s.users.UpdatePreferences(ctx, userID, `{"species": "dog", "size": "small"}`)
		require.NoError(t, err)

		c, rec := newJSONContext(s.echo, http.MethodGet, "", nil)
		c.SetParamNames("id")
		c.SetParamValues(fmt.Sprintf("%d", userID))
		require.NoError(t, s.getUserPreferences(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"preferences": {"species": "dog", "size": "small"}}`, rec.Body.String())
	})

	t.Run("HomeRoundTrip", func(t *testing.T) {
		_, err := s.users.UpdateLifestyle(ctx, userID, `{"garden": true}`)
		require.NoError(t, err)

		c, rec := newJSONContext(s.echo, http.MethodGet, "", nil)
		c.SetParamNames("id")
		c.SetParamValues(fmt.Sprintf("%d", userID))
		require.NoError(t, s.getUserHome(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"home": {"garden": true}}`, rec.Body.String())
	})

	t.Run("UnknownUser", func(t *testing.T) {
		c, _ := newJSONContext(s.echo, http.MethodGet, "", nil)
		c.SetParamNames("id")
		c.SetParamValues("999999999")
		err := s.getUserPreferences(c)

		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusNotFound, httpErr.Code)
	})
}
