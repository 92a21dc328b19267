package config

type StorageConfig interface {
	GetTokenFile() string
	GetTokenSecret() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

// GetTokenFile is empty when the session should only live in memory.
func (Storage) GetTokenFile() string {
	return GetEnv("TOKEN_FILE", "")
}

// GetTokenSecret seals the token file when set.
func (Storage) GetTokenSecret() string {
	return GetEnv("TOKEN_SECRET", "")
}
