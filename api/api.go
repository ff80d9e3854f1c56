// Package api serves the pull endpoints clients use to catch up after a
// reconnect: the notification inbox, the room list and message history. It
// also takes the per-member room preferences.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/stride-chat/auth"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/persistence"
	"github.com/tcriess/stride-chat/types"
)

type ctxKey struct{}

// Reader advances read positions; the sequencing coordinator implements it.
type Reader interface {
	CommitRead(ctx context.Context, userId, roomId string, seq int64) (int64, error)
}

type API struct {
	auth   auth.Authenticator
	store  persistence.Store
	reader Reader
	logger hclog.Logger
}

func New(authenticator auth.Authenticator, store persistence.Store, reader Reader, logger hclog.Logger) *API {
	return &API{auth: authenticator, store: store, reader: reader, logger: logger.Named("api")}
}

func (a *API) Routes(router *mux.Router) {
	r := router.PathPrefix("/api").Subrouter()
	r.Use(a.authenticate)
	r.HandleFunc("/notifications", a.notifications).Methods(http.MethodGet)
	r.HandleFunc("/notifications/{roomId}", a.clearNotification).Methods(http.MethodDelete)
	r.HandleFunc("/rooms", a.rooms).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomId}/messages", a.messages).Methods(http.MethodGet)
	r.HandleFunc("/rooms/{roomId}/read", a.read).Methods(http.MethodPost)
	r.HandleFunc("/rooms/{roomId}/prefs", a.prefs).Methods(http.MethodPatch)
}

func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, provider := auth.Credentials(r)
		identity, err := a.auth.Authenticate(r.Context(), token, provider)
		if err != nil {
			a.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, identity)))
	})
}

func identity(r *http.Request) *auth.Identity {
	return r.Context().Value(ctxKey{}).(*auth.Identity)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Debug("could not write response", "error", err)
	}
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	if errs.Retryable(err) {
		a.logger.Error("request failed", "error", err)
	}
	a.writeJSON(w, errs.HTTPStatus(err), types.ErrorEvent{Code: errs.CodeOf(err), Message: errs.MessageOf(err)})
}

func page(r *http.Request) (string, int, error) {
	query := r.URL.Query()
	limit := 0
	if s := query.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return "", 0, errs.Validation(errs.CodeInvalidPayload, "limit must be a non-negative integer")
		}
		limit = n
	}
	return query.Get("cursor"), limit, nil
}

func optionalBool(r *http.Request, name string) (*bool, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, errs.Validation(errs.CodeInvalidFilter, name+" must be a boolean")
	}
	return &b, nil
}

type pageResponse struct {
	Items      interface{} `json:"items"`
	NextCursor string      `json:"nextCursor"`
}

func (a *API) notifications(w http.ResponseWriter, r *http.Request) {
	cursor, limit, err := page(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	items, next, err := a.store.ListInbox(r.Context(), identity(r).UserId, cursor, limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if items == nil {
		items = []*types.InboxItem{}
	}
	a.writeJSON(w, http.StatusOK, pageResponse{Items: items, NextCursor: next})
}

func (a *API) rooms(w http.ResponseWriter, r *http.Request) {
	cursor, limit, err := page(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	f := types.RoomFilter{
		Search: strings.TrimSpace(r.URL.Query().Get("q")),
		Expr:   r.URL.Query().Get("expr"),
	}
	if f.Pinned, err = optionalBool(r, "pinned"); err != nil {
		a.writeError(w, err)
		return
	}
	if f.Muted, err = optionalBool(r, "muted"); err != nil {
		a.writeError(w, err)
		return
	}
	items, next, err := a.store.ListRoomsForMember(r.Context(), identity(r).UserId, f, cursor, limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if items == nil {
		items = []*types.RoomListItem{}
	}
	a.writeJSON(w, http.StatusOK, pageResponse{Items: items, NextCursor: next})
}

func (a *API) messages(w http.ResponseWriter, r *http.Request) {
	roomId := mux.Vars(r)["roomId"]
	cursor, limit, err := page(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	ok, err := a.store.IsMember(r.Context(), roomId, identity(r).UserId)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if !ok {
		a.writeError(w, errs.ErrNotAMember)
		return
	}
	msgs, next, err := a.store.ListMessages(r.Context(), roomId, cursor, limit)
	if err != nil {
		a.writeError(w, err)
		return
	}
	items := make([]types.MessageNew, 0, len(msgs))
	for _, m := range msgs {
		if m.DeletedAt != nil {
			continue
		}
		items = append(items, types.NewMessageNew(m))
	}
	a.writeJSON(w, http.StatusOK, pageResponse{Items: items, NextCursor: next})
}

type readResponse struct {
	Unread int64 `json:"unread"`
}

func (a *API) read(w http.ResponseWriter, r *http.Request) {
	req := types.ReadRequest{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, errs.Validation(errs.CodeInvalidPayload, "body must be {\"seq\": <int>}"))
		return
	}
	req.RoomId = mux.Vars(r)["roomId"]
	unread, err := a.reader.CommitRead(r.Context(), identity(r).UserId, req.RoomId, req.Seq)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, readResponse{Unread: unread})
}

// clearNotification dismisses the caller's inbox row of the room until the
// next message arrives.
func (a *API) clearNotification(w http.ResponseWriter, r *http.Request) {
	if err := a.store.ClearInbox(r.Context(), identity(r).UserId, mux.Vars(r)["roomId"]); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) prefs(w http.ResponseWriter, r *http.Request) {
	prefs := types.MemberPrefs{}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&prefs); err != nil {
		a.writeError(w, errs.Validation(errs.CodeInvalidPayload, "body must hold pinned, muted or nickname"))
		return
	}
	member, err := a.store.SetMemberPrefs(r.Context(), mux.Vars(r)["roomId"], identity(r).UserId, prefs)
	if errs.HasCode(err, errs.CodeMemberNotFound) {
		err = errs.ErrNotAMember
	}
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, member)
}
