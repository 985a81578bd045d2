package database

import (
	"fmt"

	"github.com/AvTe/RentConnect-sub000/migrations"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

// Migrate applies or inspects the embedded goose SQL migrations.
func Migrate(db *gorm.DB, command string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("mysql"); err != nil {
		return err
	}

	switch command {
	case "up":
		return goose.Up(sqlDB, ".")
	case "down":
		return goose.Down(sqlDB, ".")
	case "status":
		return goose.Status(sqlDB, ".")
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}
}
