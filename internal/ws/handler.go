package ws

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nqdang/qbattle/internal/domain"
	"github.com/nqdang/qbattle/internal/errors"
	"github.com/nqdang/qbattle/internal/game"
	"github.com/nqdang/qbattle/internal/protocol"
	"github.com/nqdang/qbattle/internal/room"
	"github.com/nqdang/qbattle/internal/telemetry"
)

// defaultDropGrace is how long a fully-disconnected room survives before it
// is abandoned, giving its players a window to reconnect.
const defaultDropGrace = 60 * time.Second

type Config struct {
	Rooms     *room.Registry
	Engine    *game.Engine
	Hub       *Hub
	DropGrace time.Duration
}

// Handler terminates WebSocket connections and maps client envelopes onto
// the registry and the engine.
type Handler struct {
	rooms     *room.Registry
	engine    *game.Engine
	hub       *Hub
	dropGrace time.Duration

	upgrader websocket.Upgrader
}

func NewHandler(c Config) *Handler {
	if c.DropGrace == 0 {
		c.DropGrace = defaultDropGrace
	}
	return &Handler{
		rooms:     c.Rooms,
		engine:    c.Engine,
		hub:       c.Hub,
		dropGrace: c.DropGrace,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser clients are served from a separate origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and runs the connection until it drops.
func (h *Handler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.WarnContext(c.Request.Context(), "ws: upgrade failed", "error", err)
		return
	}

	client := newClient(h.hub, conn)
	go client.writePump()
	client.readPump(h.dispatch)
	h.disconnected(client)
}

func (h *Handler) dispatch(c *Client, env protocol.Envelope) {
	ctx := context.Background()

	var err error
	switch env.Type {
	case protocol.CmdCreateRoom:
		err = h.createRoom(ctx, c, env)
	case protocol.CmdJoinRoom:
		err = h.joinRoom(ctx, c, env)
	case protocol.CmdStartBattle:
		err = h.withRoom(c, env, func(code string) error {
			return h.engine.StartBattle(ctx, code, c.userID)
		})
	case protocol.CmdSubmitAnswer:
		var req protocol.SubmitAnswer
		if err = env.Decode(&req); err == nil {
			err = h.engine.SubmitAnswer(ctx, c.roomCode, c.userID, req)
		}
	case protocol.CmdFinishGame:
		var req protocol.FinishGame
		if err = env.Decode(&req); err == nil {
			err = h.engine.FinishGame(ctx, c.roomCode, c.userID, req)
		}
	case protocol.CmdEndGame:
		err = h.withRoom(c, env, func(code string) error {
			return h.engine.EndGame(ctx, code, c.userID)
		})
	case protocol.CmdEndRoom:
		err = h.withRoom(c, env, func(code string) error {
			return h.engine.EndRoom(ctx, code, c.userID)
		})
	default:
		err = errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown message type %q", env.Type))
	}

	if err != nil {
		h.sendError(c, err)
	}
}

// withRoom decodes the common room-code-only payload, defaulting to the
// client's attached room when the payload is empty.
func (h *Handler) withRoom(c *Client, env protocol.Envelope, fn func(code string) error) error {
	var req protocol.StartBattle
	if len(env.Data) > 0 {
		if err := env.Decode(&req); err != nil {
			return err
		}
	}
	code := req.RoomCode
	if code == "" {
		code = c.roomCode
	}
	if code == "" {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("room code is required"))
	}
	return fn(code)
}

func (h *Handler) createRoom(ctx context.Context, c *Client, env protocol.Envelope) error {
	var req protocol.CreateRoom
	if err := env.Decode(&req); err != nil {
		return err
	}
	if c.roomCode != "" {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("connection is already attached to room %s", c.roomCode))
	}

	r, err := h.rooms.Create(req.Name, req.Mode, domain.Participant{
		UserID:   req.UserID,
		Username: req.Username,
		FullName: req.FullName,
		IsHost:   true,
	})
	if err != nil {
		return err
	}

	telemetry.RoomsCreated.WithLabelValues(string(r.Mode)).Inc()
	slog.InfoContext(ctx, "ws: room created", "room", r.Code, "mode", r.Mode, "host", req.UserID)

	h.attach(c, r, req.UserID, req.Username)
	return nil
}

func (h *Handler) joinRoom(ctx context.Context, c *Client, env protocol.Envelope) error {
	var req protocol.JoinRoom
	if err := env.Decode(&req); err != nil {
		return err
	}
	if c.roomCode != "" {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("connection is already attached to room %s", c.roomCode))
	}

	r, err := h.rooms.Join(req.RoomCode, domain.Participant{
		UserID:   req.UserID,
		Username: req.Username,
		FullName: req.FullName,
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "ws: participant joined", "room", r.Code, "user", req.UserID)

	h.attach(c, r, req.UserID, req.Username)

	if p, ok := r.Get(req.UserID); ok {
		h.hub.ToRoom(r.Code, protocol.Event{
			Type: protocol.EvParticipantJoined,
			Data: protocol.ParticipantRef{
				UserID:   p.UserID,
				Username: p.Username,
				FullName: p.FullName,
			},
		})
	}
	return nil
}

// attach binds the connection to the room and sends the join snapshot.
func (h *Handler) attach(c *Client, r *room.Room, userID, username string) {
	c.roomCode = r.Code
	c.userID = userID
	c.username = username
	h.hub.Register(c)

	h.hub.ToUser(r.Code, userID, protocol.Event{
		Type: protocol.EvRoomJoined,
		Data: protocol.RoomJoined{
			RoomID:   r.ID,
			RoomCode: r.Code,
			RoomName: r.Name,
			IsHost:   r.IsHost(userID),
		},
	})
	h.broadcastRoster(r)
}

// broadcastRoster replaces the participant list wholesale on every change;
// clients never patch it incrementally.
func (h *Handler) broadcastRoster(r *room.Room) {
	h.hub.ToRoom(r.Code, protocol.Event{
		Type: protocol.EvParticipantList,
		Data: protocol.ParticipantList{Participants: r.Roster()},
	})
}

// disconnected handles a dropped connection. Classic rooms keep the seat so
// a reconnect can resume; fast rooms remove the player outright. Either way
// a room whose every player is gone is abandoned after the grace period.
func (h *Handler) disconnected(c *Client) {
	h.hub.Unregister(c)
	c.close()

	if c.roomCode == "" {
		return
	}
	// A reconnect replaces this client in the hub before its read loop
	// exits; the user is still live on the newer socket.
	if h.hub.Connected(c.roomCode, c.userID) {
		return
	}

	r, err := h.rooms.Get(c.roomCode)
	if err != nil {
		return
	}

	if r.Mode == domain.ModeTangToc {
		h.removed(r, c.userID)
		return
	}

	p, all, ok := r.MarkDisconnected(c.userID)
	if !ok {
		return
	}

	slog.Info("ws: participant disconnected", "room", r.Code, "user", c.userID)
	h.hub.ToRoom(r.Code, protocol.Event{
		Type: protocol.EvParticipantDisconnected,
		Data: protocol.ParticipantRef{
			UserID:   p.UserID,
			Username: p.Username,
			FullName: p.FullName,
		},
	})
	h.broadcastRoster(r)

	if all {
		h.dropWhenAbandoned(r.Code)
	}
}

// removed drops a fast-mode player from the roster: grading runs over the
// roster at each deadline, so a gone player must not linger as a ghost
// verdict.
func (h *Handler) removed(r *room.Room, userID string) {
	p, ok := r.Remove(userID)
	if !ok {
		return
	}

	slog.Info("ws: participant left", "room", r.Code, "user", userID)
	h.hub.ToRoom(r.Code, protocol.Event{
		Type: protocol.EvParticipantLeft,
		Data: protocol.ParticipantRef{
			UserID:   p.UserID,
			Username: p.Username,
			FullName: p.FullName,
		},
	})
	h.broadcastRoster(r)

	if r.Size() == 0 {
		h.dropWhenAbandoned(r.Code)
	}
}

func (h *Handler) dropWhenAbandoned(code string) {
	time.AfterFunc(h.dropGrace, func() {
		if h.hub.RoomSize(code) > 0 {
			return
		}
		slog.Info("ws: dropping abandoned room", "room", code)
		h.engine.DropRoom(code)
	})
}

func (h *Handler) sendError(c *Client, err error) {
	e := errors.Convert(err)
	slog.Warn("ws: request failed", "room", c.roomCode, "user", c.userID, "error", err)
	c.push(protocol.Event{
		Type: protocol.EvError,
		Data: protocol.ErrorPayload{
			Code:    e.HTTPStatusCode(),
			Message: e.Error(),
		},
	})
}
