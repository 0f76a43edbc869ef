//go:build integration_test

package demo

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nqdang/qbattle/internal/protocol"
)

const (
	wsURL     = "ws://localhost:8080/ws"
	redisAddr = "localhost:6379"
)

// TestRoomBattle drives a classic-mode battle end to end against a running
// server and a shared Redis. Start both before running with
// -tags integration_test.
func TestRoomBattle(t *testing.T) {
	host := dial(t, "u1", "alice")
	guest := dial(t, "u2", "bob")

	// Prepare the pub/sub subscriber before anything is published.
	wg := new(sync.WaitGroup)
	subscribeAsUser(t, makeRedis(t), wg, "alice")

	// Create and join
	host.send(t, protocol.CmdCreateRoom, protocol.CreateRoom{
		Name: "demo", Mode: "khoidong", UserID: "u1", Username: "alice",
	})
	var joined protocol.RoomJoined
	host.waitFor(t, protocol.EvRoomJoined, &joined)
	require.Len(t, joined.RoomCode, 6)

	guest.send(t, protocol.CmdJoinRoom, protocol.JoinRoom{
		RoomCode: joined.RoomCode, UserID: "u2", Username: "bob",
	})
	guest.waitFor(t, protocol.EvRoomJoined, nil)

	// Battle
	host.send(t, protocol.CmdStartBattle, protocol.StartBattle{RoomCode: joined.RoomCode})

	var started protocol.BattleStarted
	host.waitFor(t, protocol.EvBattleStarted, &started)
	guest.waitFor(t, protocol.EvBattleStarted, nil)
	require.NotEmpty(t, started.Questions)

	// Both players answer the first question and report done.
	for i, c := range []*conn{host, guest} {
		c.send(t, protocol.CmdSubmitAnswer, protocol.SubmitAnswer{
			QuestionIndex: 0,
			Answer:        started.Questions[0].Answer,
		})
		c.waitFor(t, protocol.EvQuestionResult, nil)
		c.send(t, protocol.CmdFinishGame, protocol.FinishGame{CompletionTime: 5 * (i + 1)})
	}

	var results protocol.GameResults
	host.waitFor(t, protocol.EvGameResults, &results)
	require.Len(t, results.Results, 2)
	require.Equal(t, 1, results.Results[0].Rank)

	host.send(t, protocol.CmdEndRoom, protocol.EndRoom{RoomCode: joined.RoomCode})
	host.waitFor(t, protocol.EvRoomEnded, nil)

	wg.Wait()
}

type conn struct {
	ws *websocket.Conn
}

func dial(t *testing.T, userID, username string) *conn {
	t.Helper()

	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return &conn{ws: ws}
}

func (c *conn) send(t *testing.T, typ string, payload any) {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, c.ws.WriteJSON(protocol.Envelope{Type: typ, Data: data}))
}

// waitFor reads frames until one of the wanted type arrives, decoding its
// payload into dst when dst is non-nil.
func (c *conn) waitFor(t *testing.T, typ string, dst any) {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for {
		require.NoError(t, c.ws.SetReadDeadline(deadline))

		var env protocol.Envelope
		require.NoError(t, c.ws.ReadJSON(&env))
		if env.Type != typ {
			continue
		}
		if dst != nil {
			require.NoError(t, env.Decode(dst))
		}
		return
	}
}

func makeRedis(t *testing.T) redis.UniversalClient {
	r := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{redisAddr}})
	require.NoError(t, r.Ping(context.Background()).Err())
	t.Cleanup(func() { r.Close() })
	return r
}

// subscribeAsUser logs every notification pushed to the user's channel while
// the battle runs.
func subscribeAsUser(t *testing.T, r redis.UniversalClient, wg *sync.WaitGroup, user string) {
	sub := r.Subscribe(context.Background(), "qbattle:user:"+user)
	t.Cleanup(func() { sub.Close() })

	wg.Add(1)
	go func() {
		defer wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				return
			}
			t.Logf("notification for %s: %s", user, msg.Payload)
		}
	}()
}
