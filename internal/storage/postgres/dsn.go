package postgres

import (
	"fmt"
	"os"

	"github.com/flowsmith/bpmn-backend/config"
)

func DSN(cfg *config.DatabaseConfig) string {
	sslMode := os.Getenv("DB_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, sslMode,
	)
}
