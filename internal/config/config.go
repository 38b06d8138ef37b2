package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

type Config struct {
	DB_HOST     string
	DB_PORT     string
	DB_USER     string
	DB_PASSWORD string
	DB_NAME     string

	JWT_SECRET        string
	JWT_ISSUER        string
	JWT_AUDIENCE      string
	ACCESS_TOKEN_TTL  time.Duration
	REFRESH_TOKEN_TTL time.Duration

	REDIS_URL     string
	KAFKA_ADDRESS string
	LOG_LEVEL     string
	HTTP_ADDRESS  string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Notice: .env file not found: %v. Using system environment variables", err)
	}

	config := &Config{
		DB_HOST:     os.Getenv("DB_HOST"),
		DB_PORT:     os.Getenv("DB_PORT"),
		DB_USER:     os.Getenv("DB_USER"),
		DB_PASSWORD: os.Getenv("DB_PASSWORD"),
		DB_NAME:     os.Getenv("DB_NAME"),

		JWT_SECRET:        os.Getenv("JWT_SECRET"),
		JWT_ISSUER:        getEnv("JWT_ISSUER", "smartapi"),
		JWT_AUDIENCE:      getEnv("JWT_AUDIENCE", "smartapi-clients"),
		ACCESS_TOKEN_TTL:  time.Duration(getEnvInt("ACCESS_TOKEN_MINUTES", 15)) * time.Minute,
		REFRESH_TOKEN_TTL: time.Duration(getEnvInt("REFRESH_TOKEN_DAYS", 7)) * 24 * time.Hour,

		REDIS_URL:     os.Getenv("REDIS_URL"),
		KAFKA_ADDRESS: os.Getenv("KAFKA_ADDRESS"),
		LOG_LEVEL:     getEnv("LOG_LEVEL", "info"),
		HTTP_ADDRESS:  getEnv("HTTP_ADDRESS", ":8080"),
	}

	if config.JWT_SECRET == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return config, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB_USER, c.DB_PASSWORD, c.DB_HOST, c.DB_PORT, c.DB_NAME,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Notice: invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}
