package configuration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var ErrMissingIdentity = errors.New("config: identity is required")

type MongoConfig struct {
	Uri                   string `json:"uri"`
	Database              string `json:"database"`
	ChatsCollection       string `json:"chatsCollection"`
	UsersCollection       string `json:"usersCollection"`
	CallsCollection       string `json:"callsCollection"`
	InvitationsCollection string `json:"invitationsCollection"`
}

// BrokerConfig selects the pub/sub transport. Kind is "mqtt", "redis" or
// "memory".
type BrokerConfig struct {
	Kind                  string `json:"kind"`
	Url                   string `json:"url"`
	Username              string `json:"username"`
	Password              string `json:"password"`
	KeepAliveSeconds      int    `json:"keep_alive_seconds"`
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port"`
	SocketPort     int      `json:"socket_port"`
	SocketRoute    string   `json:"socket_route"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

type Config struct {
	Identity string       `json:"identity"`
	Mongo    MongoConfig  `json:"mongo"`
	Broker   BrokerConfig `json:"broker"`
	Redis    RedisConfig  `json:"redis"`
	Server   ServerConfig `json:"server"`
	Log      LogConfig    `json:"log"`
}

// LoadConfig reads the JSON file at config_path, loads a .env file if
// present and applies PARLEY_* environment overrides.
func LoadConfig(config_path string) (*Config, error) {
	file, err := os.ReadFile(config_path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = json.Unmarshal(file, &config)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", config_path, err)
	}

	// Ignore error if .env file doesn't exist (e.g. in production)
	_ = godotenv.Load()

	config.applyEnv()
	config.applyDefaults()

	if strings.TrimSpace(config.Identity) == "" {
		return nil, ErrMissingIdentity
	}
	return &config, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"PARLEY_IDENTITY":        &c.Identity,
		"PARLEY_BROKER_KIND":     &c.Broker.Kind,
		"PARLEY_BROKER_URL":      &c.Broker.Url,
		"PARLEY_BROKER_USERNAME": &c.Broker.Username,
		"PARLEY_BROKER_PASSWORD": &c.Broker.Password,
		"PARLEY_REDIS_ADDR":      &c.Redis.Addr,
		"PARLEY_REDIS_PASSWORD":  &c.Redis.Password,
		"PARLEY_MONGO_URI":       &c.Mongo.Uri,
		"PARLEY_MONGO_DATABASE":  &c.Mongo.Database,
	}
	for key, field := range overrides {
		if value, exists := os.LookupEnv(key); exists {
			*field = value
		}
	}
	c.Server.AppPort = getEnvInt("PARLEY_APP_PORT", c.Server.AppPort)
	c.Server.SocketPort = getEnvInt("PARLEY_SOCKET_PORT", c.Server.SocketPort)
}

func (c *Config) applyDefaults() {
	setDefault(&c.Broker.Kind, "mqtt")
	setDefault(&c.Mongo.Database, "parley")
	setDefault(&c.Mongo.ChatsCollection, "chats")
	setDefault(&c.Mongo.UsersCollection, "users")
	setDefault(&c.Mongo.CallsCollection, "calls")
	setDefault(&c.Mongo.InvitationsCollection, "call_invitations")
	setDefault(&c.Server.SocketRoute, "bridge")
	setDefault(&c.Log.Level, "info")
	if c.Server.AppPort == 0 {
		c.Server.AppPort = 8080
	}
	if c.Server.SocketPort == 0 {
		c.Server.SocketPort = 8081
	}
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// getEnvInt returns the value of an environment variable as an integer or a default value
func getEnvInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}
