package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dispatchboard/dispatchboard-backend/api/controllers"
	"github.com/dispatchboard/dispatchboard-backend/api/middleware"
	"github.com/dispatchboard/dispatchboard-backend/internal/activity"
	"github.com/dispatchboard/dispatchboard-backend/internal/chatrooms"
	"github.com/dispatchboard/dispatchboard-backend/internal/fanout"
	"github.com/dispatchboard/dispatchboard-backend/internal/jobs"
	"github.com/dispatchboard/dispatchboard-backend/internal/notifications"
	"github.com/dispatchboard/dispatchboard-backend/internal/statusrequests"
	"github.com/dispatchboard/dispatchboard-backend/pkg/config"
	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
	pkgredis "github.com/dispatchboard/dispatchboard-backend/pkg/redis"
)

// Directory is the slice of the directory the HTTP layer needs: tenant
// ownership of entities and company membership.
type Directory interface {
	controllers.EntityScope
	middleware.MembershipChecker
}

// Deps are the services behind the HTTP surface.
type Deps struct {
	DB             controllers.Pinger
	Redis          controllers.Pinger
	Idempotency    pkgredis.IdempotencyStore
	Directory      Directory
	Ledger         activity.Service
	Notifications  notifications.Service
	StatusRequests statusrequests.Service
	ChatRooms      chatrooms.Service
	Jobs           jobs.Service
	Bus            *fanout.Bus
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    deps.DB,
			"redis": deps.Redis,
		}))
	})

	r.Get("/api/public/ping", controllers.PublicPing())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Directory, logg))

		r.Get("/me", controllers.WhoAmI(logg))
		r.Get("/stream", controllers.ActivityStream(controllers.StreamParams{
			Bus:          deps.Bus,
			Scope:        deps.Directory,
			Origins:      cfg.App.CORSOrigins,
			PingInterval: cfg.Fanout.PingInterval,
			Logger:       logg,
		}))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Idempotency(deps.Idempotency, logg))

			r.Route("/activity", func(r chi.Router) {
				r.Get("/", controllers.ActivityFeed(deps.Ledger, deps.Directory, logg))
				r.Get("/entities/{entityType}/{entityId}", controllers.EntityTimeline(deps.Ledger, deps.Directory, logg))
			})

			r.Route("/notifications", func(r chi.Router) {
				r.Get("/", controllers.ListNotifications(deps.Notifications, logg))
				r.Get("/unread-count", controllers.UnreadNotificationCount(deps.Notifications, logg))
				r.Post("/{recordId}/read", controllers.MarkNotificationRead(deps.Notifications, logg))
				r.Post("/read-all", controllers.MarkAllNotificationsRead(deps.Notifications, logg))
			})

			r.Route("/status-requests", func(r chi.Router) {
				r.Post("/", controllers.CreateStatusRequest(deps.StatusRequests, deps.Directory, logg))
				r.Get("/pending", controllers.PendingStatusRequests(deps.StatusRequests, logg))
				r.Post("/{requestId}/respond", controllers.RespondStatusRequest(deps.StatusRequests, logg))
			})

			r.Route("/chat/rooms", func(r chi.Router) {
				r.Get("/", controllers.ListMyRooms(deps.ChatRooms, logg))
				r.Post("/", controllers.GetOrCreateRoom(deps.ChatRooms, deps.Directory, logg))
				r.Post("/private", controllers.GetOrCreatePrivateRoom(deps.ChatRooms, deps.Directory, deps.Directory, logg))
				r.Post("/{roomId}/join", controllers.JoinRoom(deps.ChatRooms, logg))
				r.Get("/{roomId}/participants", controllers.RoomParticipants(deps.ChatRooms, logg))
			})

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.MemberRoleOwner, enums.MemberRoleAdmin))
				r.Post("/assignments", controllers.Reassign(deps.Jobs, deps.Directory, logg))
			})
			r.Post("/status-changes", controllers.ChangeWorkStatus(deps.Jobs, deps.Directory, logg))
		})
	})

	return r
}
