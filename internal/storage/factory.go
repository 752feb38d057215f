// internal/storage/factory.go
package storage

import "fmt"

// Config selects and configures a backend
type Config struct {
	Type string
	Path string
	S3   S3Config
}

// New builds the backend named by cfg.Type: localfs (default), s3 or memory
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case "", "localfs":
		return NewLocalFS(cfg.Path)
	case "s3":
		return NewS3(cfg.S3)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Type)
	}
}
