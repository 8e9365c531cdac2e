package middleware

import (
	"github.com/gin-gonic/gin"

	midsec "shuttle/middleware/security"
)

// RouteOpt 配置选项
type RouteOpt struct {
	// Token, when set, requires "Authorization: Bearer <Token>".
	Token string
}

// GET 封装
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.Token != "" {
		r.GET(path, midsec.Middleware(midsec.Options{Token: opt.Token}), handler)
		return
	}
	r.GET(path, handler)
}
