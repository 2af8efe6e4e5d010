package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"log"
)

type Config struct {
	Log       Log
	HTTP      HTTP
	Lanes     Lanes
	Store     Store
	Redis     Redis
	Provider  Provider
	Quality   Quality
	Export    Export
	Templates Templates
}

type Log struct {
	Level  string `env:"Log_Level" envDefault:"info"`
	Pretty bool   `env:"Log_Pretty" envDefault:"false"`
}

type HTTP struct {
	Port int `env:"HTTP_Port" envDefault:"8080"`
}

type Lanes struct {
	ReportConcurrency int           `env:"Lane_ReportConcurrency" envDefault:"3"`
	ReportMaxAttempts int           `env:"Lane_ReportMaxAttempts" envDefault:"3"`
	ReportBaseBackoff time.Duration `env:"Lane_ReportBaseBackoff" envDefault:"2s"`
	ReportMaxBackoff  time.Duration `env:"Lane_ReportMaxBackoff" envDefault:"1m"`
	FileConcurrency   int           `env:"Lane_FileConcurrency" envDefault:"2"`
	FileMaxAttempts   int           `env:"Lane_FileMaxAttempts" envDefault:"2"`
	FileRetryDelay    time.Duration `env:"Lane_FileRetryDelay" envDefault:"5s"`
	SchedulerInterval time.Duration `env:"Lane_SchedulerInterval" envDefault:"1s"`
	ClaimBlock        time.Duration `env:"Lane_ClaimBlock" envDefault:"5s"`
}

type Store struct {
	Driver        string `env:"Store_Driver" envDefault:"memory"`
	HeartbeatKeep int    `env:"Store_HeartbeatKeep" envDefault:"50"`
	BadgerPath    string `env:"Store_BadgerPath" envDefault:"./data/badger"`
}

type Redis struct {
	Addr      string `env:"Redis_Address" envDefault:"localhost:6379"`
	Password  string `env:"Redis_Password"`
	DB        int    `env:"Redis_DB"`
	KeyPrefix string `env:"Redis_KeyPrefix" envDefault:"reportq"`
}

type Provider struct {
	Backends        []string      `env:"Provider_Backends" envSeparator:"," envDefault:"static"`
	MaxTokens       int           `env:"Provider_MaxTokens" envDefault:"2048"`
	Temperature     float64       `env:"Provider_Temperature" envDefault:"0.7"`
	Timeout         time.Duration `env:"Provider_Timeout" envDefault:"90s"`
	RateLimit       float64       `env:"Provider_RateLimit" envDefault:"5"`
	RateBurst       int           `env:"Provider_RateBurst" envDefault:"5"`
	CacheSize       int64         `env:"Provider_CacheSize" envDefault:"1000"`
	TokenEncoding   string        `env:"Provider_TokenEncoding"`
	AnthropicAPIKey string        `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string        `env:"Provider_AnthropicModel" envDefault:"claude-sonnet-4-20250514"`
	GeminiAPIKey    string        `env:"GEMINI_API_KEY"`
	GeminiModel     string        `env:"Provider_GeminiModel" envDefault:"gemini-2.5-flash"`
	OpenAIAPIKey    string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL   string        `env:"Provider_OpenAIBaseURL"`
	OpenAIModel     string        `env:"Provider_OpenAIModel" envDefault:"gpt-4o-mini"`
}

type Quality struct {
	Threshold       float64 `env:"Quality_Threshold" envDefault:"0.8"`
	MaxImprovements int     `env:"Quality_MaxImprovements" envDefault:"2"`
}

type Export struct {
	Dir string `env:"Export_Dir" envDefault:"./data/exports"`
}

type Templates struct {
	Dir string `env:"Templates_Dir"`
}

func Load() *Config {
	c, err := Parse()
	if err != nil {
		log.Fatal(err)
	}

	return c
}

// Parse reads an optional .env file and then the process environment.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	return &c, nil
}
