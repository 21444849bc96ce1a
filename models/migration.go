package models

import (
	"log"

	"bitbucket.org/mmdatafocus/hospitality_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Establishment{},
		&Order{}, &OrderItem{},
		&DailySalesRecord{},
		&SalesOutboxRecord{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
