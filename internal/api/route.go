package api

import (
	"Murmur/internal/api/middleware"
	"Murmur/internal/pkg/logger"
	"net/http"

	"github.com/gin-gonic/gin"
)

func SetupRouter(group *HandlersGroup) *gin.Engine {
	r := gin.New()
	_ = r.SetTrustedProxies([]string{"localhost"})

	// TraceId & Logger & CORS
	r.Use(middleware.TraceMiddleware())
	r.Use(middleware.CORSMiddleware())
	logger.SetupGin(r)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"Code":    200,
				"Message": "pong",
				"Data":    nil,
			})
		})

		imGroup := apiGroup.Group("/im")
		{
			// WS 握手自带 token，不走 Header 中间件
			imGroup.GET("/ws", group.WsHandler.Connect)

			authGroup := imGroup.Group("")
			authGroup.Use(middleware.AuthMiddleware())
			{
				authGroup.GET("/conversations", group.IMHandler.ListConversations)
				authGroup.GET("/messages", group.IMHandler.ListMessages)
				authGroup.POST("/message", group.IMHandler.SendMessage)
				authGroup.POST("/message/read", group.IMHandler.MarkAsRead)
				authGroup.PUT("/message", group.IMHandler.EditMessage)
				authGroup.DELETE("/message", group.IMHandler.DeleteMessage)
				authGroup.POST("/message/correct", group.IMHandler.CorrectMessage)
				authGroup.POST("/conversation/clear", group.IMHandler.ClearConversation)
			}
		}
	}

	return r
}
