package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/wandercart/wandercart/internal/clock"
	"github.com/wandercart/wandercart/internal/config"
	"github.com/wandercart/wandercart/internal/migration"
	"github.com/wandercart/wandercart/internal/observability"
	"github.com/wandercart/wandercart/internal/server"
	"github.com/wandercart/wandercart/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
