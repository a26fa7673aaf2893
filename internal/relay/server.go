// Package relay is a development implementation of the remote message
// store, media upload service and ephemeral typing and receipt channels.
package relay

import (
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/Khushal-Kathad/Thryve-sub001/internal/bus"
	"github.com/Khushal-Kathad/Thryve-sub001/internal/remote"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// kindRoomChange is published on the internal bus for every mutation.
const kindRoomChange = "room.change"

// Config configures a relay server.
type Config struct {
	DataDir   string
	Token     string
	PublicURL string
}

// Server serves the relay HTTP and WebSocket API.
type Server struct {
	app       *fiber.App
	db        *gorm.DB
	bus       *bus.Bus
	mediaDir  string
	publicURL string
	token     string
	logger    *zap.Logger
}

// New opens the relay database under cfg.DataDir and builds the routes.
func New(cfg Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DataDir == "" {
		return nil, errors.New("relay data dir is required")
	}
	mediaDir := filepath.Join(cfg.DataDir, "media")
	if err := os.MkdirAll(mediaDir, 0700); err != nil {
		return nil, errors.Wrap(err, "create media dir")
	}
	db, err := OpenDB(filepath.Join(cfg.DataDir, "relay.db"))
	if err != nil {
		return nil, err
	}

	s := &Server{
		db:        db,
		bus:       bus.New(),
		mediaDir:  mediaDir,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		token:     cfg.Token,
		logger:    logger,
	}
	s.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             32 << 20,
		ErrorHandler:          s.handleError,
	})
	s.routes()
	return s, nil
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("relay listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops the server and closes the database.
func (s *Server) Shutdown() error {
	err := s.app.Shutdown()
	if sqlDB, dbErr := s.db.DB(); dbErr == nil {
		_ = sqlDB.Close()
	}
	return err
}

func (s *Server) routes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.app.Static("/files", s.mediaDir)

	s.app.Post("/uploads", s.authorize, s.handleUpload)

	rooms := s.app.Group("/rooms/:room", s.authorize)
	rooms.Post("/messages", s.handleCreateMessage)
	rooms.Get("/messages", s.handleListMessages)
	rooms.Put("/messages/:msg/receipts/:user", s.handleAddReceipt)
	rooms.Get("/messages/:msg/receipts", s.handleListReceipts)
	rooms.Get("/typing", s.handleListTyping)
	rooms.Put("/typing/:user", s.handleSetTyping)
	rooms.Delete("/typing/:user", s.handleClearTyping)
	rooms.Get("/cursors/:user", s.handleGetCursor)
	rooms.Put("/cursors/:user", s.handleSetCursor)

	s.app.Get("/ws", s.authorize, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			var rooms []string
			for _, r := range c.Context().QueryArgs().PeekMulti("room") {
				if len(r) > 0 {
					rooms = append(rooms, string(r))
				}
			}
			c.Locals("rooms", rooms)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, websocket.New(s.handleWatch))
}

// authorize enforces the bearer token when one is configured.
func (s *Server) authorize(c *fiber.Ctx) error {
	if s.token == "" {
		return c.Next()
	}
	if c.Get(fiber.HeaderAuthorization) == "Bearer "+s.token || c.Query("token") == s.token {
		return c.Next()
	}
	return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("relay request failed",
			zap.String("method", c.Method()), zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// param returns the unescaped route parameter.
func param(c *fiber.Ctx, name string) string {
	v := c.Params(name)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func (s *Server) publish(kind, roomID string) {
	s.bus.Emit(kindRoomChange, remote.Change{Kind: kind, RoomID: roomID})
}
