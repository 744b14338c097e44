package cache

import (
	"errors"
	"os"

	"github.com/go-redis/redis"

	"github.com/NwtsN/factor-investing-system/fislogger"
)

// ICacheManager is the run state store. Pending and errored tickers
// live in Redis sets so an interrupted run can resume where it stopped.
type ICacheManager interface {
	Connect() error
	Disconnect() error
	AddToSet(key string, value string) error
	DeleteFromSet(key string, value string) error
	GetAllFromSet(key string) ([]string, error)
	GetLength(key string) (int64, error)
	DeleteSet(key string) error
}

type CacheManager struct {
	clientHandle *redis.Client
	logger       *fislogger.FISLogger
}

func NewCacheManager(logger *fislogger.FISLogger) *CacheManager {
	return &CacheManager{logger: logger}
}

func (m *CacheManager) Connect() error {
	redisAddr := os.Getenv("REDISHOST") + ":" + os.Getenv("REDISPORT")
	m.clientHandle = redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: "",
		DB:       0})

	res, err := m.clientHandle.Ping().Result()
	if err != nil {
		return errors.New("Failed to connect to " + redisAddr + ". Error: " + err.Error())
	}
	m.logger.Info("Cache", "Connected to "+redisAddr+": "+res)
	return nil
}

func (m *CacheManager) Disconnect() error {
	if m.clientHandle == nil {
		return nil
	}
	return m.clientHandle.Close()
}

func (m *CacheManager) AddToSet(key string, value string) error {
	if err := m.clientHandle.SAdd(key, value).Err(); err != nil {
		return errors.New("Failed to add " + value + " to set " + key + ". Error: " + err.Error())
	}
	return nil
}

func (m *CacheManager) DeleteFromSet(key string, value string) error {
	if _, err := m.clientHandle.SRem(key, value).Result(); err != nil {
		return errors.New("Failed to remove " + value + " from set " + key + ". Error: " + err.Error())
	}
	return nil
}

func (m *CacheManager) GetAllFromSet(key string) ([]string, error) {
	values, err := m.clientHandle.SMembers(key).Result()
	if err != nil {
		return nil, errors.New("Failed to read set " + key + ". Error: " + err.Error())
	}
	return values, nil
}

func (m *CacheManager) GetLength(key string) (int64, error) {
	length, err := m.clientHandle.SCard(key).Result()
	if err != nil {
		return 0, errors.New("Failed to get length of set " + key + ". Error: " + err.Error())
	}
	return length, nil
}

func (m *CacheManager) DeleteSet(key string) error {
	if _, err := m.clientHandle.Del(key).Result(); err != nil {
		return errors.New("Failed to delete set " + key + ". Error: " + err.Error())
	}
	return nil
}
