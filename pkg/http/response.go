package http

import "github.com/labstack/echo/v4"

const Success = "success"

type ErrorResponse struct {
	Error string `json:"error"`
}

type ResultResponse struct {
	Result string `json:"result"`
}

type AuthURLResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

func ErrorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, ErrorResponse{Error: message})
}

func ResultJSON(c echo.Context, status int) error {
	return c.JSON(status, ResultResponse{Result: Success})
}

func AuthURLJSON(c echo.Context, status int, authURL string) error {
	return c.JSON(status, AuthURLResponse{AuthorizationURL: authURL})
}
