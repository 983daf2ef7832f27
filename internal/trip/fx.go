package trip

import (
	"github.com/wandercart/wandercart/internal/trip/repository"
	"github.com/wandercart/wandercart/internal/trip/service"
	"go.uber.org/fx"
)

var Module = fx.Module("trip.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
