package relay

import (
	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDB opens the relay database at path and migrates its schema.
func OpenDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open relay db %s", path)
	}
	if err := db.AutoMigrate(&Message{}, &Receipt{}, &Typing{}, &Cursor{}, &Upload{}); err != nil {
		return nil, errors.Wrap(err, "migrate relay db")
	}
	return db, nil
}
