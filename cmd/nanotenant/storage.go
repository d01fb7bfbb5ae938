package main

import (
	"fmt"

	"github.com/micromdm/nanotenant/engine/storage"
	"github.com/micromdm/nanotenant/engine/storage/diskv"
	"github.com/micromdm/nanotenant/engine/storage/inmem"
	"github.com/micromdm/nanotenant/engine/storage/mysql"

	_ "github.com/go-sql-driver/mysql"
)

func parseStorage(name, dsn string) (storage.AllStorage, error) {
	switch name {
	case "inmem":
		return inmem.New(), nil
	case "file", "diskv":
		if dsn == "" {
			dsn = "db"
		}
		return diskv.New(dsn), nil
	case "mysql":
		s, err := mysql.New(mysql.WithDSN(dsn))
		if err != nil {
			return nil, fmt.Errorf("creating mysql storage: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown storage: %s", name)
}
