// Package config loads the server configuration from an HCL file, with
// secrets and connection strings overridable from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/joho/godotenv"

	"github.com/lox/holdemtable/internal/engine"
	"github.com/lox/holdemtable/internal/game"
)

// Config is the complete server configuration.
type Config struct {
	Server    *ServerSettings  `hcl:"server,block"`
	Storage   *StorageSettings `hcl:"storage,block"`
	Events    *EventSettings   `hcl:"events,block"`
	Schedules []ScheduleConfig `hcl:"blind_schedule,block"`
	Tables    []TableConfig    `hcl:"table,block"`
}

// ServerSettings holds listener, timing and credential settings. Durations
// are written as Go duration strings ("30s", "2m").
type ServerSettings struct {
	Address         string `hcl:"address,optional"`
	Port            int    `hcl:"port,optional"`
	LogLevel        string `hcl:"log_level,optional"`
	DecisionTimeout string `hcl:"decision_timeout,optional"`
	ReconnectGrace  string `hcl:"reconnect_grace,optional"`
	ReserveTTL      string `hcl:"reserve_ttl,optional"`
	AutoStart       bool   `hcl:"auto_start,optional"`
	NextHandDelay   string `hcl:"next_hand_delay,optional"`
	TokenSecret     string `hcl:"token_secret,optional"`
	HarnessKey      string `hcl:"harness_key,optional"`
}

type StorageSettings struct {
	Driver    string `hcl:"driver,optional"`
	Dir       string `hcl:"dir,optional"`
	MySQLDSN  string `hcl:"mysql_dsn,optional"`
	RedisAddr string `hcl:"redis_addr,optional"`
	RedisTTL  string `hcl:"redis_ttl,optional"`
}

// EventSettings configures hand-completed publishing. An empty URL disables it.
type EventSettings struct {
	AMQPURL  string `hcl:"amqp_url,optional"`
	Exchange string `hcl:"exchange,optional"`
}

type ScheduleConfig struct {
	Name   string        `hcl:"name,label"`
	Mode   string        `hcl:"mode,optional"`
	Levels []LevelConfig `hcl:"level,block"`
}

type LevelConfig struct {
	SmallBlind int    `hcl:"small_blind"`
	BigBlind   int    `hcl:"big_blind"`
	Ante       int    `hcl:"ante,optional"`
	Duration   string `hcl:"duration,optional"`
}

// TableConfig defines one table. The label is the table id.
type TableConfig struct {
	ID       string `hcl:"id,label"`
	Name     string `hcl:"name,optional"`
	Seats    int    `hcl:"seats,optional"`
	MinBuyIn int    `hcl:"min_buy_in,optional"`
	MaxBuyIn int    `hcl:"max_buy_in,optional"`
	Schedule string `hcl:"schedule,optional"`
}

const (
	DriverFile   = "file"
	DriverMySQL  = "mysql"
	DriverMemory = "memory"

	defaultSchedule = "default"
)

// Environment variables that override file settings.
const (
	EnvTokenSecret = "HOLDEM_TOKEN_SECRET"
	EnvMySQLDSN    = "HOLDEM_MYSQL_DSN"
	EnvRedisAddr   = "HOLDEM_REDIS_ADDR"
	EnvAMQPURL     = "HOLDEM_AMQP_URL"
	EnvHarnessKey  = "HOLDEM_HARNESS_KEY"
)

// Default returns the configuration used when no file exists: one six-seat
// 1/2 cash table stored on disk.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads filename, applies defaults and then environment overrides. A
// .env file in the working directory is loaded into the environment first.
// A missing config file yields the defaults.
func Load(filename string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var c Config
	if _, err := os.Stat(filename); err == nil {
		parser := hclparse.NewParser()
		file, diags := parser.ParseHCLFile(filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
		}
		if diags := gohcl.DecodeBody(file.Body, nil, &c); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL: %s", diags.Error())
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	c.applyDefaults()
	c.applyEnv()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server == nil {
		c.Server = &ServerSettings{}
	}
	s := c.Server
	if s.Address == "" {
		s.Address = "localhost"
	}
	if s.Port == 0 {
		s.Port = 8080
	}
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}
	if s.DecisionTimeout == "" {
		s.DecisionTimeout = "30s"
	}
	if s.ReconnectGrace == "" {
		s.ReconnectGrace = "30s"
	}
	if s.ReserveTTL == "" {
		s.ReserveTTL = "1m"
	}
	if s.NextHandDelay == "" {
		s.NextHandDelay = "3s"
	}

	if c.Storage == nil {
		c.Storage = &StorageSettings{}
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverFile
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "data"
	}
	if c.Storage.RedisTTL == "" {
		c.Storage.RedisTTL = "10m"
	}

	if c.Events == nil {
		c.Events = &EventSettings{}
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "holdem.events"
	}

	if len(c.Schedules) == 0 {
		c.Schedules = []ScheduleConfig{{
			Name:   defaultSchedule,
			Levels: []LevelConfig{{SmallBlind: 1, BigBlind: 2}},
		}}
	}
	for i := range c.Schedules {
		if c.Schedules[i].Mode == "" {
			c.Schedules[i].Mode = "cash"
		}
	}

	if len(c.Tables) == 0 {
		c.Tables = []TableConfig{{ID: "main"}}
	}
	for i := range c.Tables {
		t := &c.Tables[i]
		if t.Name == "" {
			t.Name = t.ID
		}
		if t.Seats == 0 {
			t.Seats = 6
		}
		if t.Schedule == "" {
			t.Schedule = c.Schedules[0].Name
		}
		bb := 0
		if sc := c.schedule(t.Schedule); sc != nil && len(sc.Levels) > 0 {
			bb = sc.Levels[0].BigBlind
		}
		if t.MinBuyIn == 0 {
			t.MinBuyIn = bb * 20
		}
		if t.MaxBuyIn == 0 {
			t.MaxBuyIn = bb * 100
		}
	}
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	override(&c.Server.TokenSecret, EnvTokenSecret)
	override(&c.Server.HarnessKey, EnvHarnessKey)
	override(&c.Storage.MySQLDSN, EnvMySQLDSN)
	override(&c.Storage.RedisAddr, EnvRedisAddr)
	override(&c.Events.AMQPURL, EnvAMQPURL)
}

func (c *Config) schedule(name string) *ScheduleConfig {
	for i := range c.Schedules {
		if c.Schedules[i].Name == name {
			return &c.Schedules[i]
		}
	}
	return nil
}

// Validate checks the configuration, including every duration string.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.TokenSecret == "" {
		return fmt.Errorf("server: token_secret is required (or set %s)", EnvTokenSecret)
	}
	for name, raw := range map[string]string{
		"decision_timeout": c.Server.DecisionTimeout,
		"reconnect_grace":  c.Server.ReconnectGrace,
		"reserve_ttl":      c.Server.ReserveTTL,
		"next_hand_delay":  c.Server.NextHandDelay,
		"redis_ttl":        c.Storage.RedisTTL,
	} {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			return fmt.Errorf("%s: invalid duration %q", name, raw)
		}
	}

	switch c.Storage.Driver {
	case DriverFile, DriverMemory:
	case DriverMySQL:
		if c.Storage.MySQLDSN == "" {
			return fmt.Errorf("storage: mysql driver needs mysql_dsn (or set %s)", EnvMySQLDSN)
		}
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}

	if len(c.Tables) == 0 {
		return errors.New("at least one table must be configured")
	}
	if _, err := c.TableSpecs(); err != nil {
		return err
	}
	return nil
}

// ListenAddr returns host:port for the HTTP listener.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

// Duration parses a validated duration setting.
func Duration(raw string) time.Duration {
	d, _ := time.ParseDuration(raw)
	return d
}

// TableSpecs converts the table blocks into engine table specs.
func (c *Config) TableSpecs() ([]engine.TableSpec, error) {
	specs := make([]engine.TableSpec, 0, len(c.Tables))
	var seen []string
	for _, t := range c.Tables {
		if t.ID == "" {
			return nil, errors.New("table: empty id")
		}
		if slices.Contains(seen, t.ID) {
			return nil, fmt.Errorf("table %s: duplicate id", t.ID)
		}
		seen = append(seen, t.ID)

		tc := game.TableConfig{Name: t.Name, Seats: t.Seats, MinBuyIn: t.MinBuyIn, MaxBuyIn: t.MaxBuyIn}
		if err := tc.Validate(); err != nil {
			return nil, fmt.Errorf("table %s: %w", t.ID, err)
		}
		sc := c.schedule(t.Schedule)
		if sc == nil {
			return nil, fmt.Errorf("table %s: unknown blind schedule %q", t.ID, t.Schedule)
		}
		mode, levels, err := sc.resolve()
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.ID, err)
		}
		specs = append(specs, engine.TableSpec{ID: t.ID, Config: tc, Mode: mode, Levels: levels})
	}
	return specs, nil
}

func (s ScheduleConfig) resolve() (game.ScheduleMode, []game.BlindLevel, error) {
	mode, err := game.ParseScheduleMode(s.Mode)
	if err != nil {
		return 0, nil, fmt.Errorf("blind_schedule %s: %w", s.Name, err)
	}
	if len(s.Levels) == 0 {
		return 0, nil, fmt.Errorf("blind_schedule %s: no levels", s.Name)
	}
	if mode == game.CashGame && len(s.Levels) != 1 {
		return 0, nil, fmt.Errorf("blind_schedule %s: cash schedules take exactly one level", s.Name)
	}

	levels := make([]game.BlindLevel, len(s.Levels))
	for i, l := range s.Levels {
		if l.SmallBlind <= 0 || l.BigBlind < l.SmallBlind || l.Ante < 0 {
			return 0, nil, fmt.Errorf("blind_schedule %s: level %d: invalid blinds %d/%d ante %d",
				s.Name, i+1, l.SmallBlind, l.BigBlind, l.Ante)
		}
		var d time.Duration
		if l.Duration != "" {
			if d, err = time.ParseDuration(l.Duration); err != nil {
				return 0, nil, fmt.Errorf("blind_schedule %s: level %d: %w", s.Name, i+1, err)
			}
		}
		if mode == game.Tournament && d <= 0 && i < len(s.Levels)-1 {
			return 0, nil, fmt.Errorf("blind_schedule %s: level %d needs a duration", s.Name, i+1)
		}
		levels[i] = game.BlindLevel{Level: i + 1, SmallBlind: l.SmallBlind, BigBlind: l.BigBlind, Ante: l.Ante, Duration: d}
	}
	return mode, levels, nil
}
