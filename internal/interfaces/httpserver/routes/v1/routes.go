package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/closetspace/asset-api/internal/interfaces/httpserver/handlers"
)

// Routes encapsulates versioned route registration.
type Routes struct {
	handlers *handlers.Provider
}

func NewRoutes(provider *handlers.Provider) *Routes {
	return &Routes{handlers: provider}
}

// Register attaches all v1 routes under /v1 prefix.
func (r *Routes) Register(router gin.IRouter) {
	group := router.Group("/v1")
	group.POST("/items/:item_id/image", r.handlers.Asset.UploadImage)
	group.POST("/items/:item_id/image/generate", r.handlers.Asset.GenerateImage)
	group.GET("/items/:item_id/image/status", r.handlers.Asset.GetStatus)
}
