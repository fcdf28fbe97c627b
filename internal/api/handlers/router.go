package handlers

import (
	"context"
	"time"

	"ppe-sentinel/config"
	"ppe-sentinel/internal/api/middleware"
	"ppe-sentinel/internal/core/models"
	"ppe-sentinel/internal/core/processor"
	"ppe-sentinel/internal/ingest"
	"ppe-sentinel/internal/locale"
	"ppe-sentinel/internal/preview"
	"ppe-sentinel/internal/sse"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const sessionName = "ppe-sentinel"

// EvidenceStore is the part of the evidence store used by the API
type EvidenceStore interface {
	ListSummaries(ctx context.Context, limit, offset int) ([]models.EvidenceSummary, int64, error)
	GetByID(ctx context.Context, id uint) (*models.Evidence, error)
	Count(ctx context.Context) (int64, error)
	DeleteByID(ctx context.Context, id uint) (bool, error)
	DeleteAll(ctx context.Context) error
}

// StreamController lists and stops running streams
type StreamController interface {
	Streams() []processor.StreamStats
	Stop(camera string) bool
}

// FrameIngestor submits detector results received over HTTP
type FrameIngestor interface {
	Ingest(ctx context.Context, camera string, msg *ingest.Message, frameData []byte) error
}

// ConnectionChecker reports the state of an outbound connection
type ConnectionChecker interface {
	IsConnected() bool
}

// Dependencies are the services the API is built on. Previews, Gatherer and
// MQTT may be nil.
type Dependencies struct {
	Config     *config.Config
	Store      EvidenceStore
	Streams    StreamController
	Ingestor   FrameIngestor
	Hub        *sse.Hub
	Previews   *preview.Buffer
	Translator *locale.Translator
	Gatherer   prometheus.Gatherer
	MQTT       ConnectionChecker
}

// NewRouter builds the gin engine with every API route below /api
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(cors.New(corsConfig(deps.Config.Server.AllowedOrigins)))
	router.Use(sessions.Sessions(sessionName, cookie.NewStore([]byte(deps.Config.Server.SessionSecret))))
	router.Use(middleware.I18n(deps.Translator))

	api := router.Group("/api")

	NewEvidenceHandler(deps.Store).RegisterRoutes(api)
	NewStreamHandler(deps.Streams, deps.Ingestor, deps.Previews).RegisterRoutes(api)
	NewEventHandler(deps.Hub).RegisterRoutes(api)
	NewSystemHandler(deps.Store, deps.Streams, deps.MQTT, deps.Gatherer).RegisterRoutes(api)

	if deps.Previews != nil {
		deps.Previews.RegisterRoutes(api)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Accept-Language"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}

	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}

	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}
