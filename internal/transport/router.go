package transport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/alanyang/domain-server/internal/domain/event"
	porteventbus "github.com/alanyang/domain-server/internal/port/eventbus"
	statussvc "github.com/alanyang/domain-server/internal/service/status"

	mcptransport "github.com/alanyang/domain-server/internal/transport/mcp"
	statushandler "github.com/alanyang/domain-server/internal/transport/status"
	wshandler "github.com/alanyang/domain-server/internal/transport/ws"
)

// NewRouter builds the operator HTTP surface. Every route is read-only; any
// other path or method gets a JSON 404. mcpServer may be nil.
func NewRouter(
	ctx context.Context,
	statusSvc *statussvc.Service,
	mcpServer *mcptransport.Server,
	eventBus porteventbus.EventBus,
) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(CORSMiddleware())

	statushandler.Register(r.Group(""), statusSvc)

	hub := wshandler.NewHub()
	hub.Register(r.Group("/ws"))

	if mcpServer != nil {
		r.Any("/mcp", gin.WrapH(mcpServer.Handler()))
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	// One subscription per channel; event.Type in the payload lets clients filter.
	for _, ch := range event.Channels {
		c := ch
		if _, err := eventBus.Subscribe(ctx, c, func(_ context.Context, e event.Event) {
			hub.Broadcast(e)
		}); err != nil {
			slog.Error("failed to subscribe channel to WS hub", "channel", c, "error", err)
		}
	}

	return r
}
