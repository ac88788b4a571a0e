package pixwebhooks

import (
	"fmt"

	pixcommand "github.com/goliatone/go-pix-webhooks/command"
	pixquery "github.com/goliatone/go-pix-webhooks/query"
)

type Commands struct {
	ProcessWebhook   *pixcommand.ProcessWebhookCommand
	DrainRetries     *pixcommand.DrainRetriesCommand
	SweepIdempotency *pixcommand.SweepIdempotencyCommand
}

type Queries struct {
	GetIdempotencyRecord *pixquery.GetIdempotencyRecordQuery
	Stats                *pixquery.StatsQuery
}

// Facade exposes the runtime as go-command commands and queries.
type Facade struct {
	runtime  *Runtime
	commands Commands
	queries  Queries
}

func NewFacade(runtime *Runtime) (*Facade, error) {
	if runtime == nil || runtime.coordinator == nil {
		return nil, fmt.Errorf("pixwebhooks: runtime is required")
	}
	facade := &Facade{runtime: runtime}
	facade.commands = Commands{
		ProcessWebhook:   pixcommand.NewProcessWebhookCommand(runtime.coordinator),
		DrainRetries:     pixcommand.NewDrainRetriesCommand(runtime.coordinator),
		SweepIdempotency: pixcommand.NewSweepIdempotencyCommand(runtime.store),
	}
	facade.queries = Queries{
		GetIdempotencyRecord: pixquery.NewGetIdempotencyRecordQuery(runtime.store),
		Stats:                pixquery.NewStatsQuery(runtime.coordinator),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Runtime() *Runtime {
	if f == nil {
		return nil
	}
	return f.runtime
}
