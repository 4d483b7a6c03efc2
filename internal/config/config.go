package config

import "time"

const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"
)

type Config struct {
	Environment string
	BaseURL     string
	HttpPort    int
	Db          struct {
		Dsn         string
		Automigrate bool
	}
	Jwt struct {
		SecretKey string
		TTL       time.Duration
	}
	Notifications struct {
		Email string
	}
	Smtp struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
	}
	FileUploader struct {
		CloudName string
		ApiKey    string
		ApiSecret string
	}
	Redis struct {
		Addr string
		DB   int
	}
	Kafka struct {
		Servers string
		Enabled bool
	}
	Paynow struct {
		BaseURL        string
		IntegrationID  string
		IntegrationKey string
		ResultURL      string
		ReturnURL      string
		Timeout        time.Duration
	}
	Scheduler struct {
		AuctionAutopilot bool
		Interval         time.Duration
	}
	SuperAdmin struct {
		Email    string
		Password string
		Phone    string
	}
	IdentifierMaxAttempts int
}

// IsProduction controls whether error detail is exposed to API clients.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}
