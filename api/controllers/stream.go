package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/dispatchboard/dispatchboard-backend/api/responses"
	"github.com/dispatchboard/dispatchboard-backend/api/validators"
	"github.com/dispatchboard/dispatchboard-backend/internal/directory"
	"github.com/dispatchboard/dispatchboard-backend/internal/fanout"
	pkgerrors "github.com/dispatchboard/dispatchboard-backend/pkg/errors"
	"github.com/dispatchboard/dispatchboard-backend/pkg/logger"
)

const (
	streamWriteWait    = 10 * time.Second
	streamReadLimit    = 512
	defaultPingPeriod  = 30 * time.Second
	maxEntityTopics    = 50
	streamCloseMessage = "stream closed"
)

// StreamParams configure the live activity websocket.
type StreamParams struct {
	Bus          *fanout.Bus
	Scope        EntityScope
	Origins      []string
	PingInterval time.Duration
	Logger       *logger.Logger
}

// ActivityStream upgrades to a websocket that pushes live records. The caller
// always receives records addressed to them; `entity=<type>:<id>` (repeatable)
// adds an entity timeline and `company=true` adds the whole company feed.
// One bus subscription backs the whole session and is released when either
// side hangs up.
func ActivityStream(params StreamParams) http.HandlerFunc {
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	ping := params.PingInterval
	if ping <= 0 {
		ping = defaultPingPeriod
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(params.Origins),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		p, err := principalFrom(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		topics, err := streamTopics(r, params.Scope, p)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := params.Bus.Subscribe(topics...)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe to activity"))
			return
		}
		defer sub.Close()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logg.Warn(logg.WithField(r.Context(), "error", err.Error()), "stream.upgrade_failed")
			return
		}
		defer conn.Close()

		ctx := logg.WithField(r.Context(), "topics", len(topics))
		logg.Info(ctx, "stream.open")
		defer logg.Info(ctx, "stream.closed")

		gone := make(chan struct{})
		go readPump(conn, ping*2, gone)

		ticker := time.NewTicker(ping)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-sub.Messages():
				if !ok {
					closeStream(conn)
					return
				}
				if err := writeFrame(conn, msg); err != nil {
					return
				}
			case reason, ok := <-sub.Resync():
				if !ok {
					closeStream(conn)
					return
				}
				if err := writeFrame(conn, fanout.Message{Kind: fanout.MessageResync, Reason: reason}); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
					return
				}
			case <-gone:
				return
			}
		}
	}
}

// readPump drains client frames so pongs and close frames are processed.
func readPump(conn *websocket.Conn, pongWait time.Duration, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, msg fanout.Message) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(msg)
}

func closeStream(conn *websocket.Conn) {
	frame := websocket.FormatCloseMessage(websocket.CloseGoingAway, streamCloseMessage)
	_ = conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(streamWriteWait))
}

func streamTopics(r *http.Request, scope EntityScope, p principal) ([]fanout.Topic, error) {
	topics := []fanout.Topic{fanout.RecipientTopic(p.UserID)}

	company, err := validators.ParseQueryBool(r, "company")
	if err != nil {
		return nil, err
	}
	if company {
		topics = append(topics, fanout.CompanyTopic(p.CompanyID))
	}

	raw := r.URL.Query()["entity"]
	if len(raw) > maxEntityTopics {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "too many entity topics")
	}
	seen := make(map[uuid.UUID]struct{}, len(raw))
	for _, value := range raw {
		ref, err := parseEntityTopic(value)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ref.ID]; dup {
			continue
		}
		if err := requireInCompany(r.Context(), scope, ref, p.CompanyID); err != nil {
			return nil, err
		}
		seen[ref.ID] = struct{}{}
		topics = append(topics, fanout.EntityTopic(ref.ID))
	}
	return topics, nil
}

func parseEntityTopic(value string) (directory.EntityRef, error) {
	kind, rawID, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return directory.EntityRef{}, pkgerrors.New(pkgerrors.CodeValidation, "entity must be <type>:<id>")
	}
	entityType, err := validators.ParseEntityType(kind, "entity")
	if err != nil {
		return directory.EntityRef{}, err
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return directory.EntityRef{}, pkgerrors.New(pkgerrors.CodeValidation, "entity id must be a uuid")
	}
	return directory.EntityRef{Type: entityType, ID: id}, nil
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	wildcard := false
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "*" {
			wildcard = true
		}
		allowed[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || wildcard {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
