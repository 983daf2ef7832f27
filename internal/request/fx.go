package request

import (
	"github.com/wandercart/wandercart/internal/request/repository"
	"github.com/wandercart/wandercart/internal/request/service"
	"go.uber.org/fx"
)

var Module = fx.Module("request.service",
	fx.Provide(
		repository.Provide,
		service.New,
	),
)
