package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/nqdang/qbattle/internal/api"
	"github.com/nqdang/qbattle/internal/event"
	"github.com/nqdang/qbattle/internal/game"
	"github.com/nqdang/qbattle/internal/leaderboard"
	"github.com/nqdang/qbattle/internal/question"
	"github.com/nqdang/qbattle/internal/room"
	"github.com/nqdang/qbattle/internal/session"
	"github.com/nqdang/qbattle/internal/telemetry"
	"github.com/nqdang/qbattle/internal/ws"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Leaderboard struct {
			Addrs  []string
			Pass   string
			Prefix string
		}

		Pubsub struct {
			Addrs  []string
			Pass   string
			Prefix string
		}
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Room struct {
		MaxPlayers int
	}

	Game struct {
		StartDelaySeconds int
		TotalTimeSeconds  int
		QuestionCount     int
	}

	Questions struct {
		CacheTTLSeconds int
	}

	Media struct {
		Hosts []string
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
		}

		postgres *pgxpool.Pool
	}

	service struct {
		rooms       *room.Registry
		questions   *question.Cache
		session     *session.Service
		leaderboard *leaderboard.Service
		engine      *game.Engine
		hub         *ws.Hub
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(addrs []string, pass string) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    addrs,
			Password: pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard.Addrs, s.c.Redis.Leaderboard.Pass)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub.Addrs, s.c.Redis.Pubsub.Pass)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s",
		s.c.Postgres.User, s.c.Postgres.Pass, s.c.Postgres.Addr, s.c.Postgres.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	s.service.rooms = room.NewRegistry(room.Config{
		MaxPlayers: s.c.Room.MaxPlayers,
	})

	cacheTTL := time.Duration(s.c.Questions.CacheTTLSeconds) * time.Second
	if cacheTTL == 0 {
		cacheTTL = time.Hour
	}
	s.service.questions = question.NewCache(question.NewStore(s.infra.postgres), cacheTTL)

	s.service.session = session.NewService(session.Config{
		DB:       s.infra.postgres,
		EventBus: s.eb,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})

	s.service.hub = ws.NewHub()
	s.service.engine = game.New(game.Config{
		Rooms:     s.service.rooms,
		Questions: s.service.questions,
		Sessions:  s.service.session,
		Push:      s.service.hub,
		EventBus:  s.eb,

		StartDelay:    time.Duration(s.c.Game.StartDelaySeconds) * time.Second,
		TotalTime:     time.Duration(s.c.Game.TotalTimeSeconds) * time.Second,
		QuestionCount: s.c.Game.QuestionCount,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:       e,
		EventBus:     s.eb,
		Session:      s.service.session,
		Leaderboard:  s.service.leaderboard,
		Questions:    s.service.questions,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
		MediaHosts:   s.c.Media.Hosts,
	})

	wsHandler := ws.NewHandler(ws.Config{
		Rooms:  s.service.rooms,
		Engine: s.service.engine,
		Hub:    s.service.hub,
	})
	e.GET("/ws", wsHandler.Serve)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx := context.TODO()

	slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()
	s.infra.postgres.Close()

	slog.InfoContext(ctx, "server: shutdown completed")
}
