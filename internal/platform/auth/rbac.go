package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// roleRank orders roles so that a higher role satisfies a lower requirement.
var roleRank = map[string]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// RequireRole returns middleware that checks if the user holds at least one
// of the specified roles, or a role ranked above it.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if HasRole(RolesFromContext(c.Request().Context()), roles...) {
				return next(c)
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// HasRole reports whether held satisfies any of required.
func HasRole(held []string, required ...string) bool {
	for _, want := range required {
		for _, has := range held {
			if has == want {
				return true
			}
			if hr, ok := roleRank[has]; ok && hr >= roleRank[want] && roleRank[want] > 0 {
				return true
			}
		}
	}
	return false
}
