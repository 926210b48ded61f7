// Package router wires the gin engine: middleware, the /producers REST
// surface, and the Git Smart HTTP endpoint (spec §4.D, §4.G). Structured
// after the teacher's internal/transport/http/router/router.go (a Router
// type wrapping the gin engine, one method per route group), trimmed to the
// single REST surface and Git passthrough this spec defines.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LunchBadger/configstore/internal/configvalidator"
	"github.com/LunchBadger/configstore/internal/eventbus"
	"github.com/LunchBadger/configstore/internal/githttp"
	"github.com/LunchBadger/configstore/internal/repomanager"
	"github.com/LunchBadger/configstore/internal/transport/http/handler"
	"github.com/LunchBadger/configstore/internal/transport/http/middleware"
)

// New builds the fully wired gin engine. allowedOrigins configures CORS, so
// browser front ends served from another origin can call the REST surface.
func New(repos *repomanager.Manager, bus *eventbus.Bus, validator *configvalidator.Validator, git *githttp.Handler, allowedOrigins []string) *gin.Engine {
	engine := gin.New()
	engine.Use(middleware.Recovery(), middleware.RequestLogger(), middleware.CORSMiddleware(allowedOrigins))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := handler.NewProducerHandler(repos, bus, validator)

	// Every route under /producers uses :producerId for the same path
	// segment; gin's tree allows only one wildcard name per node, so a
	// second name here (e.g. :id) panics at startup.
	producers := engine.Group("/producers")
	{
		producers.POST("", h.Create)
		producers.GET("", h.List)
		producers.GET("/:producerId/exists", h.Exists)
		producers.GET("/:producerId", h.Get)
		producers.DELETE("/:producerId", h.Delete)

		producers.GET("/:producerId/accesskey", h.GetAccessKey)
		producers.POST("/:producerId/accesskey", h.RegenerateAccessKey)
		producers.GET("/:producerId/change-stream", h.ChangeStream)

		producers.PATCH("/:producerId/envs/:envId/files", h.UpdateFiles)
		producers.GET("/:producerId/envs/:envId/files/*path", h.GetFile)
		producers.PUT("/:producerId/envs/:envId", h.PutEnv)
		producers.GET("/:producerId/envs/:envId", h.GetEnv)
		producers.DELETE("/:producerId/envs/:envId", h.DeleteEnv)
	}

	registerGitRoutes(engine, git)

	return engine
}

// registerGitRoutes mounts the Smart-HTTP Git endpoint per repo (spec §4.D,
// §6): GET .../info/refs and POST .../{service}.
func registerGitRoutes(engine *gin.Engine, git *githttp.Handler) {
	engine.GET("/git/:producer/info/refs", func(c *gin.Context) {
		git.InfoRefs(c.Writer, c.Request, c.Param("producer"))
	})
	engine.POST("/git/:producer/:service", func(c *gin.Context) {
		git.ServicePack(c.Writer, c.Request, c.Param("producer"), c.Param("service"))
	})
}
