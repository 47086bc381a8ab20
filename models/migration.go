package models

import (
	"log"

	"bitbucket.org/mmdatafocus/dfia_ledger/config"
	"gorm.io/gorm"
)

// AllModels is the migration set, in dependency order.
func AllModels() []interface{} {
	return []interface{}{
		&License{}, &ExportLine{}, &ClassificationTag{}, &ImportLine{}, &ImportLineTag{},
		&BillOfEntry{}, &DebitRow{},
		&Allotment{}, &AllotmentLine{},
		&Trade{}, &TradeLine{},
		&RecomputeJobRecord{}, &IdempotencyKey{},
	}
}

func MigrateTable() {
	if err := Migrate(config.GetDB()); err != nil {
		log.Fatal(err)
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
