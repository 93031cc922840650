package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/pawmatch/internal/api/auth"
	"github.com/pawmatch/internal/config"
)

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int

	db            *sql.DB
	tokenService  *auth.TokenService
	resolver      *auth.Resolver
	users         *UsersRepo
	shelters      *SheltersRepo
	animals       *AnimalsRepo
	conversations *ConversationsRepo
	messages      *MessagesRepo
	autoMessenger *AutoMessenger
}

// requestValidator adapts validator/v10 to echo's Validator interface
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i interface{}) error {
	return v.validate.Struct(i)
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, db *sql.DB) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(20))))

	tokenService := auth.NewTokenService(db, cfg.Auth.JWTSecret, cfg.Auth.ShelterJWTSecret)

	users := NewUsersRepo(db)
	shelters := NewSheltersRepo(db)
	animals := NewAnimalsRepo(db)
	conversations := NewConversationsRepo(db, animals)
	messages := NewMessagesRepo(db)

	server := &Server{
		echo:          e,
		port:          cfg.Server.Port,
		db:            db,
		tokenService:  tokenService,
		resolver:      auth.NewResolver(tokenService, users.Exists),
		users:         users,
		shelters:      shelters,
		animals:       animals,
		conversations: conversations,
		messages:      messages,
		autoMessenger: NewAutoMessenger(conversations, messages, shelters, animals,
			cfg.AutoMessage.IntroLines, cfg.AutoMessage.Suffix),
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	// Users
	v1.POST("/users", s.registerUser)
	v1.POST("/users/login", s.loginUser)
	v1.POST("/users/refresh", s.refreshUserToken)
	v1.POST("/users/logout", s.logoutUser)
	v1.GET("/users", s.listUsers)
	v1.GET("/users/:id", s.getUser)
	v1.GET("/users/:id/preferences", s.getUserPreferences)
	v1.GET("/users/:id/home", s.getUserHome)

	userSelf := v1.Group("/users", auth.RequireAuth(s.tokenService))
	userSelf.PATCH("/:id/profile", s.updateUserProfile)
	userSelf.PATCH("/:id/preferences", s.updateUserPreferences)
	userSelf.PATCH("/:id/home", s.updateUserHome)

	// Shelters
	v1.POST("/shelters", s.registerShelter)
	v1.POST("/shelters/login", s.loginShelter)
	v1.GET("/shelters", s.listShelters)
	v1.GET("/shelters/:id", s.getShelter)
	v1.PATCH("/shelters/:id", s.updateShelter, auth.RequireShelter(s.tokenService))

	// Animals
	v1.GET("/animals", s.listAnimals)
	v1.GET("/animals/:id", s.getAnimal)
	v1.POST("/animals", s.createAnimal, auth.RequireShelter(s.tokenService))
	v1.PATCH("/animals/:id", s.updateAnimal, auth.RequireShelter(s.tokenService))
	v1.DELETE("/animals/:id", s.deleteAnimal, auth.RequireShelter(s.tokenService))

	// Anonymous device keys
	v1.POST("/devices", s.issueDeviceKey)

	// Conversations (identity resolved per request: user, device or shelter)
	v1.POST("/conversations", s.startConversation)
	v1.GET("/conversations", s.listConversations)
	v1.GET("/conversations/:animalId/messages", s.getConversationMessages)
	v1.POST("/conversations/:animalId/messages", s.postConversationMessage)
	v1.DELETE("/conversations/:id", s.deleteConversation)

	// Shelter inbox, by conversation id
	inbox := v1.Group("/shelter/conversations", auth.RequireShelter(s.tokenService))
	inbox.GET("/:id/messages", s.getShelterConversationMessages)
	inbox.POST("/:id/messages", s.postShelterConversationMessage)
	inbox.POST("/:id/read", s.markShelterConversationRead)
}

// Start begins the API server
func (s *Server) Start() error {
	// Periodic cleanup of expired auth tokens
	s.tokenService.StartCleanupScheduler()

	// Start server in a goroutine
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
