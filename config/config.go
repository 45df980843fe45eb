package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config 进程级配置：先读 .env（可选），再读环境变量，最后由命令行覆盖
type Config struct {
	Addr       string
	LogFile    string
	LogLevel   string
	LogConsole bool

	ArenaWidth  float64
	ArenaHeight float64
	ArenaRegen  int

	StorageDriver string // memory / sqlite3 / postgres
	StorageDSN    string

	RemoteBaseURL      string
	SyncInterval       time.Duration
	LeaderboardRefresh time.Duration
}

// Default 返回开箱可用的默认值
func Default() Config {
	return Config{
		Addr:               ":8080",
		LogFile:            "app.log",
		LogLevel:           "debug",
		ArenaWidth:         800,
		ArenaHeight:        600,
		ArenaRegen:         10,
		StorageDriver:      "memory",
		RemoteBaseURL:      "http://localhost:8080",
		SyncInterval:       5 * time.Minute,
		LeaderboardRefresh: time.Minute,
	}
}

// Load 读取 .env 文件（不存在不算错误）并解析环境变量
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	c := Default()
	var err error
	c.Addr = envString("ARENA_ADDR", c.Addr)
	c.LogFile = envString("ARENA_LOG_FILE", c.LogFile)
	c.LogLevel = envString("ARENA_LOG_LEVEL", c.LogLevel)
	if c.LogConsole, err = envBool("ARENA_LOG_CONSOLE", c.LogConsole); err != nil {
		return Config{}, err
	}
	if c.ArenaWidth, err = envFloat("ARENA_WIDTH", c.ArenaWidth); err != nil {
		return Config{}, err
	}
	if c.ArenaHeight, err = envFloat("ARENA_HEIGHT", c.ArenaHeight); err != nil {
		return Config{}, err
	}
	if c.ArenaRegen, err = envInt("ARENA_REGEN", c.ArenaRegen); err != nil {
		return Config{}, err
	}
	c.StorageDriver = envString("STORAGE_DRIVER", c.StorageDriver)
	c.StorageDSN = envString("STORAGE_DSN", c.StorageDSN)
	c.RemoteBaseURL = envString("REMOTE_BASE_URL", c.RemoteBaseURL)
	if c.SyncInterval, err = envDuration("SYNC_INTERVAL", c.SyncInterval); err != nil {
		return Config{}, err
	}
	if c.LeaderboardRefresh, err = envDuration("LEADERBOARD_REFRESH", c.LeaderboardRefresh); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// Validate 检查取值范围
func (c Config) Validate() error {
	if c.ArenaWidth <= 0 || c.ArenaHeight <= 0 {
		return fmt.Errorf("arena size must be positive, got %vx%v", c.ArenaWidth, c.ArenaHeight)
	}
	if c.ArenaRegen < 0 || c.ArenaRegen > 100 {
		return fmt.Errorf("arena regen out of range: %d", c.ArenaRegen)
	}
	switch c.StorageDriver {
	case "memory":
	case "sqlite3", "postgres":
		if c.StorageDSN == "" {
			return fmt.Errorf("STORAGE_DSN is required for driver %s", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.SyncInterval <= 0 || c.LeaderboardRefresh <= 0 {
		return errors.New("sync and refresh intervals must be positive")
	}
	return nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
