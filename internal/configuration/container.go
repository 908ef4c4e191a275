package configuration

import (
	"context"
	"fmt"
	"time"

	"Parley/internal/call"
	"Parley/internal/channel"
	"Parley/internal/conversation"
	"Parley/internal/db"
	"Parley/internal/hub"
	"Parley/internal/model"
	"Parley/internal/push"
	"Parley/internal/repo"
	"Parley/internal/session"
	"Parley/internal/transport"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Container struct {
	Session *session.Session
	Hub     *hub.Hub
	Push    *push.Handler
	Config  Config
	Logger  *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
	redisClient *redis.Client
}

func BuildContainer(ctx context.Context, config *Config) (*Container, error) {
	logger, err := NewLogger(config.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	con, err := db.OpenConnection(ctx, config.Mongo.Uri, config.Mongo.Database)
	if err != nil {
		return nil, err
	}

	chatRepo := repo.NewChatRepository(db.NewRepository[model.Message](con, config.Mongo.ChatsCollection), logger)
	userRepo := repo.NewUserRepository(db.NewRepository[model.User](con, config.Mongo.UsersCollection), logger)
	callRepo := repo.NewCallRepository(db.NewRepository[model.CallRecord](con, config.Mongo.CallsCollection), logger)
	invitationRepo := repo.NewInvitationRepository(db.NewRepository[model.CallInvitation](con, config.Mongo.InvitationsCollection), logger)
	speakingRepo := repo.NewSpeakingRepository(con, logger)

	client, rdb, err := newTransportClient(config, logger)
	if err != nil {
		return nil, err
	}
	adapter := transport.NewAdapter(client, logger)

	reducer := conversation.NewReducer(config.Identity,
		channel.NewMessages(adapter, logger),
		channel.NewStatuses(adapter, logger),
		channel.NewTyping(adapter, logger),
		logger,
		conversation.WithHistory(chatRepo),
	)

	h := hub.NewHub(logger, config.Server.AllowedOrigins)

	sess := session.New(config.Identity, session.Deps{
		Adapter:  adapter,
		Presence: channel.NewPresence(adapter, logger),
		Reducer:  reducer,
		Calls:    call.NewCoordinator(callRepo, invitationRepo, logger),
		Speaking: speakingRepo,
		Users:    userRepo,
		Engine:   h,
		Logger:   logger,
	})

	pushHandler := push.NewHandler(config.Identity, reducer, userRepo, logger)
	h.Attach(sess, pushHandler)

	return &Container{
		Session:     sess,
		Hub:         h,
		Push:        pushHandler,
		Config:      *config,
		Logger:      logger,
		mongoClient: con,
		redisClient: rdb,
	}, nil
}

func newTransportClient(config *Config, logger *zap.Logger) (transport.Client, *redis.Client, error) {
	switch config.Broker.Kind {
	case "mqtt":
		return transport.NewMQTTClient(transport.MQTTConfig{
			BrokerURL:      config.Broker.Url,
			Username:       config.Broker.Username,
			Password:       config.Broker.Password,
			ConnectTimeout: time.Duration(config.Broker.ConnectTimeoutSeconds) * time.Second,
			KeepAlive:      time.Duration(config.Broker.KeepAliveSeconds) * time.Second,
		}, logger), nil, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		return transport.NewRedisClient(rdb, logger), rdb, nil
	case "memory":
		return transport.NewBroker().NewClient(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown broker kind %q", config.Broker.Kind)
	}
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Stop the session while the hub can still tell the engine to leave
	if c.Session != nil {
		c.Session.Stop(ctx)
	}

	// Closes all WebSocket connections
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.Logger.Warn("failed to close redis client", zap.Error(err))
		}
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
