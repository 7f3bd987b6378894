package router

import (
	"context"
	"crypto/subtle"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"resume-screener-go/internal/api/handler"
	"resume-screener-go/internal/config"
)

// RegisterRoutes 注册 API 路由
// 配置了Server.APIKey时除健康检查外的接口都要求 Authorization: Bearer <key>
func RegisterRoutes(h *server.Hertz, cfg *config.Config, screeningHandler *handler.ScreeningHandler) {
	api := h.Group("/api/v1")

	// 健康检查不做鉴权
	api.GET("/health", screeningHandler.HandleHealth)

	protected := api.Group("")
	if cfg.Server.APIKey != "" {
		protected.Use(keyauth.New(
			keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
			keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
				return subtle.ConstantTimeCompare([]byte(key), []byte(cfg.Server.APIKey)) == 1, nil
			}),
			keyauth.WithErrorHandler(func(ctx context.Context, c *app.RequestContext, err error) {
				c.JSON(consts.StatusUnauthorized, utils.H{"error": "无效或缺失的API Key"})
				c.Abort()
			}),
		))
	}

	protected.POST("/resume/upload", screeningHandler.HandleUpload)
	protected.GET("/resume/:uuid", screeningHandler.HandleGetDocument)
	protected.DELETE("/resume/:uuid", screeningHandler.HandleDeleteDocument)
	protected.GET("/resumes", screeningHandler.HandleListDocuments)

	protected.POST("/screening/analyze", screeningHandler.HandleAnalyze)
	protected.POST("/screening/retrieve", screeningHandler.HandleRetrieve)
}
