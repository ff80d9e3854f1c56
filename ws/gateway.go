package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/stride-chat/auth"
	"github.com/tcriess/stride-chat/config"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/media"
	"github.com/tcriess/stride-chat/presence"
	"github.com/tcriess/stride-chat/sequencer"
	"github.com/tcriess/stride-chat/types"
)

// Store is the part of the persistence layer the gateway reads directly.
type Store interface {
	IsMember(ctx context.Context, roomId, userId string) (bool, error)
	GetRoom(ctx context.Context, roomId string) (*types.Room, error)
}

type Coordinator interface {
	Send(ctx context.Context, authorId string, req types.SendRequest) (*sequencer.Result, error)
	CommitRead(ctx context.Context, userId, roomId string, seq int64) (int64, error)
}

type Profiles interface {
	User(ctx context.Context, userId string) (*types.User, error)
	Store(ctx context.Context, user *types.User) error
	Touch(ctx context.Context, userId string)
}

// Gateway upgrades authenticated HTTP requests to socket sessions.
type Gateway struct {
	hub         *Hub
	auth        auth.Authenticator
	store       Store
	coordinator Coordinator
	profiles    Profiles
	presence    presence.Tracker
	upgrader    websocket.Upgrader
	limits      config.LimitsConfig
	logger      hclog.Logger
}

// readLimit is the configured frame limit, or else one that admits a send
// carrying the most attachments at full size in base64.
func readLimit(limits config.LimitsConfig) int64 {
	if limits.ReadLimit > 0 {
		return limits.ReadLimit
	}
	files, size := limits.MaxAttachments, limits.MaxAttachmentBytes
	if files <= 0 {
		files = media.DefaultLimits.MaxFiles
	}
	if size <= 0 {
		size = media.DefaultLimits.MaxFileBytes
	}
	return int64(files)*size*4/3 + frameOverhead
}

func NewGateway(hub *Hub, authenticator auth.Authenticator, store Store, coordinator Coordinator, directory Profiles, tracker presence.Tracker, cfg *config.Config, logger hclog.Logger) *Gateway {
	if tracker == nil {
		tracker = presence.NewLocal()
	}
	limits := cfg.LimitsConfig
	if limits.SendRate <= 0 {
		limits.SendRate = 5
	}
	if limits.SendBurst <= 0 {
		limits.SendBurst = 10
	}
	limits.ReadLimit = readLimit(limits)
	g := &Gateway{
		hub:         hub,
		auth:        authenticator,
		store:       store,
		coordinator: coordinator,
		profiles:    directory,
		presence:    tracker,
		limits:      limits,
		logger:      logger.Named("gateway"),
	}
	g.upgrader = websocket.Upgrader{CheckOrigin: originChecker(cfg.ServerConfig.AllowedOrigins)}
	return g
}

// originChecker allows the listed origins; "*" allows any. Without a list
// gorilla's same-origin check applies.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

func (g *Gateway) Routes(router *mux.Router) {
	router.Handle("/ws", g).Methods(http.MethodGet)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(errs.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(types.ErrorEvent{Code: errs.CodeOf(err), Message: errs.MessageOf(err)})
}

// ServeHTTP authenticates before the upgrade; a rejected request never becomes a socket.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, provider := auth.Credentials(r)
	identity, err := g.auth.Authenticate(ctx, token, provider)
	if err != nil {
		g.logger.Debug("rejected connection", "error", err)
		writeError(w, err)
		return
	}
	user, err := g.profiles.User(ctx, identity.UserId)
	if err != nil {
		g.logger.Error("could not load user", "user", identity.UserId, "error", err)
		writeError(w, err)
		return
	}
	if user.Nick == "" && identity.Name != "" {
		named := *user
		named.Nick = identity.Name
		if err := g.profiles.Store(ctx, &named); err != nil {
			g.logger.Warn("could not store user", "user", identity.UserId, "error", err)
		} else {
			user = &named
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade error", "error", err)
		return
	}
	g.profiles.Touch(ctx, user.Id)

	c := newClient(g, conn, user)
	g.hub.register(c)
	go c.writeLoop()

	// the request context ends with the handler; the session uses its own
	sessionCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.readLoop(sessionCtx)

	c.leaveAll(sessionCtx)
	g.hub.unregister(c)
	<-c.doneChan
	g.logger.Debug("connection closed", "user", user.Id)
}
