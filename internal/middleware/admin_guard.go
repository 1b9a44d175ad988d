package middleware

import "github.com/labstack/echo/v4"

// AdminGuard ensures only admins can access admin routes.
func AdminGuard(next echo.HandlerFunc) echo.HandlerFunc {
	return RequireRoles(RoleAdmin)(next)
}
