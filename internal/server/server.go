package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/RetentionML/decisionflow/pkg/configs"
	"github.com/RetentionML/decisionflow/pkg/logger"
	"github.com/RetentionML/decisionflow/pkg/middleware"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

var (
	router *gin.Engine
	once   sync.Once
)

// InitServer builds the router and blocks serving it. To be called last from
// main.go, after every handler singleton is initialized.
func InitServer(appConfigs *configs.AppConfigs) {
	Init()
	address := fmt.Sprintf(":%d", appConfigs.Configs.ApplicationPort)
	logger.Info(fmt.Sprintf("decisionflow started at port on %s", address))
	if err := router.Run(address); err != nil {
		logger.Panic("Failed to start decisionflow application!", err)
	}
}

func Init() {
	once.Do(func() {
		env := viper.GetString("APP_ENV")
		if env == "prod" || env == "production" {
			gin.SetMode(gin.ReleaseMode)
		}
		router = gin.New()

		middleware.InitHTTPMiddleware("x-request-id", "x-caller-id")
		router.Use(middleware.Recovery())
		router.Use(middleware.AccessLog())

		router.GET("/health/self", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "true"})
		})

		RegisterRoutes(router)
	})
}

func Instance() *gin.Engine {
	if router == nil {
		logger.Panic("Router not initialized", nil)
	}
	return router
}
