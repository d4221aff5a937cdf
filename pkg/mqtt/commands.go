package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/techbridge/techbridge/pkg/log"
	"github.com/techbridge/techbridge/pkg/tech"
)

// Commander executes writes on a module.
type Commander interface {
	SetZone(ctx context.Context, udid string, zoneID int, on bool) (json.RawMessage, error)
	SetConstTemp(ctx context.Context, udid string, zoneID int, celsius float64) (json.RawMessage, error)
	Command(ctx context.Context, udid string, cmd tech.Command, value int) (json.RawMessage, error)
}

// ZoneCommand is the payload of a zone set topic. Exactly one field must be
// set.
type ZoneCommand struct {
	On          *bool    `json:"on,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// ValueCommand is the payload of a control set topic.
type ValueCommand struct {
	Value *int `json:"value"`
}

// CommandHandler executes commands received over MQTT and asks for a refresh
// of the module afterwards so the result shows up on the state topics.
type CommandHandler struct {
	ctx       context.Context
	commander Commander
	refresh   func(ctx context.Context, udid string) error
	topics    Topics
	qos       byte

	wg sync.WaitGroup
}

// NewCommandHandler returns a handler. refresh may be nil.
func NewCommandHandler(ctx context.Context, commander Commander, refresh func(ctx context.Context, udid string) error, cfg Config) *CommandHandler {
	return &CommandHandler{
		ctx:       ctx,
		commander: commander,
		refresh:   refresh,
		topics:    Topics{Prefix: cfg.TopicPrefix},
		qos:       byte(cfg.QoS),
	}
}

// Subscribe registers the handler for zone and control commands. Messages
// are handled on their own goroutine since a command and the refresh after
// it can take as long as the API and broker timeouts.
func (h *CommandHandler) Subscribe(b Broker) error {
	if err := b.Subscribe(h.topics.ZoneSetFilter(), h.qos, h.dispatch); err != nil {
		return err
	}
	return b.Subscribe(h.topics.CommandSetFilter(), h.qos, h.dispatch)
}

func (h *CommandHandler) dispatch(topic string, payload []byte) error {
	payload = bytes.Clone(payload)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.Handle(topic, payload); err != nil {
			log.Ctx(h.ctx).WarnContext(h.ctx, "mqtt command failed", slog.String("topic", topic), slog.Any("error", err))
		}
	}()
	return nil
}

// Wait blocks until every dispatched command has finished.
func (h *CommandHandler) Wait() {
	h.wg.Wait()
}

// Handle executes the command carried by one message.
func (h *CommandHandler) Handle(topic string, payload []byte) error {
	udid, kind, target, ok := h.topics.parseSet(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected command topic %q", ErrInvalidTopic, topic)
	}
	ctx := log.WithModule(h.ctx, udid)

	var err error
	switch kind {
	case "zone":
		err = h.zone(ctx, udid, target, payload)
	case "command":
		err = h.command(ctx, udid, target, payload)
	default:
		err = fmt.Errorf("%w: unexpected command topic %q", ErrInvalidTopic, topic)
	}
	if err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "executed mqtt command", slog.String("topic", topic))

	if h.refresh != nil {
		if err := h.refresh(ctx, udid); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "refresh after command failed", slog.Any("error", err))
		}
	}
	return nil
}

func (h *CommandHandler) zone(ctx context.Context, udid, target string, payload []byte) error {
	zoneID, err := strconv.Atoi(target)
	if err != nil {
		return fmt.Errorf("invalid zone id %q: %w", target, err)
	}
	var cmd ZoneCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("invalid zone command: %w", err)
	}
	switch {
	case cmd.On != nil && cmd.Temperature == nil:
		_, err = h.commander.SetZone(ctx, udid, zoneID, *cmd.On)
	case cmd.Temperature != nil && cmd.On == nil:
		_, err = h.commander.SetConstTemp(ctx, udid, zoneID, *cmd.Temperature)
	default:
		return errors.New("zone command needs exactly one of on or temperature")
	}
	return err
}

func (h *CommandHandler) command(ctx context.Context, udid, target string, payload []byte) error {
	var cmd ValueCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("invalid command payload: %w", err)
	}
	value := 0
	if cmd.Value != nil {
		value = *cmd.Value
	} else if tech.Command(target) != tech.CommandResetFilter {
		return errors.New("command payload needs a value")
	}
	_, err := h.commander.Command(ctx, udid, tech.Command(target), value)
	return err
}
