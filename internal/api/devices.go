package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// issueDeviceKey handles POST /devices: hands an anonymous client an
// opaque key it presents as X-Device-Key on subsequent requests. The key
// is not stored server-side; conversations index it on first contact.
func (s *Server) issueDeviceKey(c echo.Context) error {
	return c.JSON(http.StatusCreated, map[string]string{
		"deviceKey": uuid.NewString(),
	})
}
