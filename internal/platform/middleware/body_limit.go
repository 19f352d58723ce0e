package middleware

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// BodyLimit caps request bodies at defaultLimit bytes. Paths under
// uploadPrefix get uploadLimit instead, since medical records arrive as
// base64 data URLs inside the JSON body.
func BodyLimit(defaultLimit, uploadLimit int64, uploadPrefix string) echo.MiddlewareFunc {
	isUpload := func(c echo.Context) bool {
		return uploadPrefix != "" && strings.HasPrefix(c.Request().URL.Path, uploadPrefix)
	}
	regular := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit:   strconv.FormatInt(defaultLimit, 10) + "B",
		Skipper: isUpload,
	})
	upload := echomw.BodyLimitWithConfig(echomw.BodyLimitConfig{
		Limit:   strconv.FormatInt(uploadLimit, 10) + "B",
		Skipper: func(c echo.Context) bool { return !isUpload(c) },
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return regular(upload(next))
	}
}

// UploadLimit is the body size needed to carry a decoded payload of n bytes
// as base64 plus a JSON envelope.
func UploadLimit(n int64) int64 {
	return n*4/3 + 64<<10
}
