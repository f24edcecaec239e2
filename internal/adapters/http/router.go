// Package http exposes the control API, the provider webhook and the
// room feed over gin.
package http

import (
	"context"

	"github.com/dkeye/voicestage/internal/adapters/signal"
	"github.com/dkeye/voicestage/internal/app/orch"
	"github.com/dkeye/voicestage/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, tokens *TokenIssuer, ws *signal.SignalWSController) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("StageSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Bool("guests", cfg.AllowGuests).Msg("router setup")

	api := r.Group("/api")

	hooks := &HookHandler{Orch: o, Secret: []byte(cfg.WebhookSecret)}
	if cfg.WebhookSecret == "" {
		log.Warn().Str("module", "adapters.http").Msg("webhook_secret not set, provider events will be rejected")
	}
	api.POST("/hooks/voice", hooks.Handle)

	h := &RoomHandlers{Orch: o}
	api.Use(IdentityMiddleware(tokens, o.Registry, cfg.AllowGuests))
	api.GET("/explore", h.Explore)
	api.GET("/rooms", h.List)

	rooms := api.Group("/rooms/:room")
	rooms.POST("/join", h.Join)
	rooms.POST("/leave", h.Leave)
	rooms.POST("/hand", h.RaiseHand)
	rooms.DELETE("/hand", h.CancelHand)
	rooms.POST("/seat", h.TakeSeat)
	rooms.POST("/requests/:user/approve", h.Approve)
	rooms.POST("/requests/:user/deny", h.Deny)
	rooms.GET("/requests/:user/history", h.History)
	rooms.DELETE("/seats/:user", h.Revoke)
	rooms.GET("/queue", h.Queue)
	rooms.GET("/stats", h.Stats)
	rooms.PUT("/featured", h.SetFeatured)

	if ws != nil {
		rooms.GET("/ws", func(c *gin.Context) {
			room, valid := roomParam(c)
			if !valid {
				return
			}
			log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Str("room", string(room)).Msg("ws endpoint hit")
			ws.HandleSubscribe(ctx, c, room, caller(c))
		})
	}

	return r
}
