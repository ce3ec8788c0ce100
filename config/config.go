package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Debug             bool   `envconfig:"debug"`
	Port              int    `envconfig:"port" default:"8080"`
	Env               string `envconfig:"env"`
	PostgresHost      string `envconfig:"postgres_host"`
	PostgresUser      string `envconfig:"postgres_user"`
	PostgresDB        string `envconfig:"postgres_db"`
	PostgresPort      int    `envconfig:"postgres_port"`
	PostgresPassword  string `envconfig:"postgres_password"`
	JWTSecret         string `envconfig:"jwt_secret"`
	InternalAPIKey    string `envconfig:"internal_api_key"`
	AMQPURI           string `envconfig:"amqp_uri"`
	AMQPExchange      string `envconfig:"amqp_exchange" default:"notify.push"`
	MailgunApiKey     string `envconfig:"mg_public_api_key"`
	MgDomain          string `envconfig:"mg_domain"`
	MgEmailFrom       string `envconfig:"email_from"`
	InitialPageSize   int    `envconfig:"initial_page_size" default:"20"`
	RetentionDays     int    `envconfig:"retention_days" default:"30"`
	CleanupIntervalHr int    `envconfig:"cleanup_interval_hr" default:"24"`
}

func Load() (*Config, error) {
	env := os.Getenv("GIN_MODE")
	if env != "release" {
		if err := godotenv.Load("./.env"); err != nil {
			log.Printf("couldn't load env vars: %v", err)
		}
	}

	c := &Config{}
	err := envconfig.Process("notify", c)
	if err != nil {
		return nil, err
	}
	return c, nil
}
