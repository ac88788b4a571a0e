// Package gocommand exposes the webhook runtime on the go-command dispatcher:
// process, drain and sweep as commands, record lookup and stats as queries.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	pixcommand "github.com/goliatone/go-pix-webhooks/command"
	"github.com/goliatone/go-pix-webhooks/core"
	pixquery "github.com/goliatone/go-pix-webhooks/query"
	"github.com/goliatone/go-pix-webhooks/webhooks"
)

// ValidateMessageContract requires a non-empty Type() and runs Validate()
// when the message has one.
func ValidateMessageContract(msg any) error {
	typed, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: %T does not implement Type() string", msg)
	}
	if strings.TrimSpace(typed.Type()) == "" {
		return fmt.Errorf("gocommand: %T has an empty message type", msg)
	}
	return command.ValidateMessage(msg)
}

// RegistryAdapter owns the go-command registry the webhook handlers are
// recorded in. Initialize runs once every handler is registered.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func (a *RegistryAdapter) ready() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return nil
}

// Dispatch sends a webhook command to its subscriber after checking the
// message contract.
func Dispatch[T any](ctx context.Context, msg T) error {
	if err := ValidateMessageContract(msg); err != nil {
		return err
	}
	return commanddispatcher.Dispatch(ctx, msg)
}

// Query runs a webhook query after checking the message contract.
func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	if err := ValidateMessageContract(msg); err != nil {
		var zero R
		return zero, err
	}
	return commanddispatcher.Query[T, R](ctx, msg)
}

// subscribeCommand subscribes cmd on the dispatcher and records it in the
// registry. The subscription is dropped when registration fails.
func subscribeCommand[T any](adapter *RegistryAdapter, cmd command.Commander[T], runnerOpts ...runner.Option) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.registry.RegisterCommand(cmd); err != nil {
		unsubscribe(subscription)
		return nil, fmt.Errorf("gocommand: register %T: %w", cmd, err)
	}
	return subscription, nil
}

func subscribeQuery[T any, R any](adapter *RegistryAdapter, qry command.Querier[T, R], runnerOpts ...runner.Option) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.registry.RegisterCommand(qry); err != nil {
		unsubscribe(subscription)
		return nil, fmt.Errorf("gocommand: register %T: %w", qry, err)
	}
	return subscription, nil
}

func unsubscribe(subscriptions ...commanddispatcher.Subscription) {
	for _, subscription := range subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
}

// WebhookHandlers are the services behind the webhook commands and queries.
type WebhookHandlers struct {
	Coordinator *webhooks.Coordinator
	Sweeper     pixcommand.IdempotencySweeper
	Records     pixquery.IdempotencyReader
}

// RegisterWebhookHandlers registers and subscribes the process, drain and
// sweep commands plus the record and stats queries. On failure every
// subscription made so far is released.
func RegisterWebhookHandlers(
	adapter *RegistryAdapter,
	handlers WebhookHandlers,
	runnerOpts ...runner.Option,
) ([]commanddispatcher.Subscription, error) {
	if handlers.Coordinator == nil {
		return nil, fmt.Errorf("gocommand: webhook coordinator is required")
	}
	if handlers.Sweeper == nil || handlers.Records == nil {
		return nil, fmt.Errorf("gocommand: idempotency sweeper and reader are required")
	}

	subscriptions := make([]commanddispatcher.Subscription, 0, 5)
	keep := func(subscription commanddispatcher.Subscription, err error) error {
		if err != nil {
			unsubscribe(subscriptions...)
			return err
		}
		subscriptions = append(subscriptions, subscription)
		return nil
	}

	if err := keep(subscribeCommand[pixcommand.ProcessWebhookMessage](adapter, pixcommand.NewProcessWebhookCommand(handlers.Coordinator), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := keep(subscribeCommand[pixcommand.DrainRetriesMessage](adapter, pixcommand.NewDrainRetriesCommand(handlers.Coordinator), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := keep(subscribeCommand[pixcommand.SweepIdempotencyMessage](adapter, pixcommand.NewSweepIdempotencyCommand(handlers.Sweeper), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := keep(subscribeQuery[pixquery.GetIdempotencyRecordMessage, core.IdempotencyRecord](adapter, pixquery.NewGetIdempotencyRecordQuery(handlers.Records), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := keep(subscribeQuery[pixquery.StatsMessage, webhooks.Stats](adapter, pixquery.NewStatsQuery(handlers.Coordinator), runnerOpts...)); err != nil {
		return nil, err
	}
	return subscriptions, nil
}
