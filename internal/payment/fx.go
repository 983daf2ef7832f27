package payment

import (
	paymentdomain "github.com/wandercart/wandercart/internal/payment/domain"
	"github.com/wandercart/wandercart/internal/payment/provider/stripe"
	"github.com/wandercart/wandercart/internal/payment/repository"
	"github.com/wandercart/wandercart/internal/payment/service"
	"github.com/wandercart/wandercart/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		stripe.New,
		func(p *stripe.Provider) paymentdomain.Provider { return p },
		func(p *stripe.Provider) paymentdomain.WebhookAdapter { return p },
	),
	fx.Provide(service.New),
	fx.Provide(webhook.New),
)
