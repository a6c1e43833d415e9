package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tsunagu/internal/models"
)

// CommandType is the closed vocabulary of inbound command intents.
type CommandType string

const (
	CommandSearch       CommandType = "search"
	CommandLoadSubgraph CommandType = "load-subgraph"
	CommandRefresh      CommandType = "refresh"
	CommandReset        CommandType = "reset"
)

// Command is one intent sent by the host UI.
type Command struct {
	Type  CommandType           `json:"type"`
	Query *models.RetrieveQuery `json:"query,omitempty"`
	Seeds []string              `json:"seeds,omitempty"`
	Depth int                   `json:"depth,omitempty"`
}

// Validate checks the command shape. Retrieval queries are validated by the retriever.
func (c *Command) Validate() error {
	switch c.Type {
	case CommandSearch:
		if c.Query == nil {
			return models.NewValidationError("query", "search command requires a query")
		}
	case CommandLoadSubgraph:
		if c.Depth < 0 {
			return models.NewValidationError("depth", "must be non-negative, got %d", c.Depth)
		}
	case CommandRefresh, CommandReset:
	default:
		return models.NewValidationError("type", "unknown command %q", c.Type)
	}
	return nil
}

// DecodeCommand parses a JSON command and validates it.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	if err := json.Unmarshal(data, &c); err != nil {
		return Command{}, models.NewValidationError("body", "invalid command: %v", err)
	}
	return c, c.Validate()
}

// Retriever answers search commands.
type Retriever interface {
	Retrieve(ctx context.Context, q models.RetrieveQuery) (*models.RetrieveResponse, error)
}

// GraphView answers subgraph commands and clears presentation state on reset.
type GraphView interface {
	Subgraph(seeds []string, depth int) models.GraphSnapshot
	ClearPresentation()
}

// StatusPayload is the payload of TypeStatus events.
type StatusPayload struct {
	Nodes int                        `json:"nodes"`
	Edges int                        `json:"edges"`
	Queue map[models.QueueStatus]int `json:"queue,omitempty"`
	Time  time.Time                  `json:"time"`
}

// StatusFunc reports current corpus and queue status.
type StatusFunc func() StatusPayload

// Dispatcher turns commands into outbound events. It publishes every event it produces and
// also returns them, so request/response callers need not subscribe.
type Dispatcher struct {
	retriever Retriever
	graph     GraphView
	status    StatusFunc
	publisher Publisher
	logger    *zap.Logger // optional
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets a logger for failed commands.
func WithLogger(l *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithStatus sets the status source used by refresh and reset.
func WithStatus(fn StatusFunc) DispatcherOption {
	return func(d *Dispatcher) { d.status = fn }
}

// NewDispatcher creates a dispatcher. publisher may be nil.
func NewDispatcher(retriever Retriever, graph GraphView, publisher Publisher, opts ...DispatcherOption) *Dispatcher {
	if publisher == nil {
		publisher = Nop
	}
	d := &Dispatcher{retriever: retriever, graph: graph, publisher: publisher}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs cmd. A failure is published as an error event and returned.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) ([]Event, error) {
	out, err := d.dispatch(ctx, cmd)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("command failed", zap.String("command", string(cmd.Type)), zap.Error(err))
		}
		e := New(TypeError, ErrorPayload{Message: err.Error()})
		d.publisher.Publish(e)
		return []Event{e}, err
	}
	for _, e := range out {
		d.publisher.Publish(e)
	}
	return out, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, cmd Command) ([]Event, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	switch cmd.Type {
	case CommandSearch:
		if d.retriever == nil {
			return nil, fmt.Errorf("search is not available")
		}
		resp, err := d.retriever.Retrieve(ctx, *cmd.Query)
		if err != nil {
			return nil, err
		}
		out := []Event{New(TypeSearchResults, resp)}
		if resp.Subgraph != nil {
			out = append(out, New(TypeSubgraph, resp.Subgraph))
		}
		return out, nil
	case CommandLoadSubgraph:
		if d.graph == nil {
			return nil, fmt.Errorf("graph is not available")
		}
		return []Event{New(TypeSubgraph, d.graph.Subgraph(cmd.Seeds, cmd.Depth))}, nil
	case CommandReset:
		if d.graph != nil {
			d.graph.ClearPresentation()
		}
		fallthrough
	default: // refresh
		var out []Event
		if d.status != nil {
			out = append(out, New(TypeStatus, d.status()))
		}
		if d.graph != nil {
			out = append(out, New(TypeSubgraph, d.graph.Subgraph(nil, 0)))
		}
		return out, nil
	}
}
