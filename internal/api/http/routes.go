package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/climastream/weather-stream/internal/alerts"
	"github.com/climastream/weather-stream/internal/location"
	"github.com/climastream/weather-stream/internal/stream"
	"github.com/climastream/weather-stream/internal/weather"
)

var validate = validator.New()

// Deps bundles everything the streaming boundary needs.
type Deps struct {
	Service        *weather.Service
	Coordinator    *alerts.Coordinator
	Registry       *stream.Registry
	Resolver       *location.Resolver
	Intervals      stream.Intervals
	ResolveTimeout time.Duration
}

// streamQuery holds the stream request parameters.
type streamQuery struct {
	Location   string `validate:"required,min=2,max=128"`
	AlertTypes string `validate:"omitempty,max=256"`
}

// RegisterRoutes wires the streaming HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	app.Get("/weather/stream/:location", handleStream(deps))
	app.Get("/weather/status", handleStatus(deps.Registry))
	app.Post("/weather/heartbeat/:id", handleHeartbeat(deps.Registry))
}

func handleStream(deps Deps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		q := streamQuery{
			Location:   c.Params("location"),
			AlertTypes: c.Query("alert_types", "all"),
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		ctx, cancel := context.WithTimeout(context.Background(), deps.ResolveTimeout)
		defer cancel()

		loc, err := deps.Resolver.Resolve(ctx, q.Location)
		if err != nil {
			if errors.Is(err, weather.ErrLocationNotFound) {
				return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("unknown location %q", q.Location))
			}
			return fiber.NewError(fiber.StatusBadGateway, "location resolution failed")
		}

		conn := stream.NewConnection(loc.Key, loc.Name, alerts.NewFilter(q.AlertTypes))
		session := stream.NewSession(context.Background(), conn, deps.Service, deps.Coordinator, deps.Registry, deps.Intervals)

		if err := deps.Registry.Register(session); err != nil {
			if errors.Is(err, stream.ErrCapacityExceeded) {
				return fiber.NewError(fiber.StatusServiceUnavailable, "connection capacity exceeded")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to register connection")
		}

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			go session.Run()

			for ev := range session.Events() {
				if err := writeEvent(w, ev); err != nil {
					// Client went away; tear the session down and drain the
					// remaining events so Run can finish.
					log.Printf("stream %s: write failed, closing: %v", conn.ID, err)
					session.Close()
					for range session.Events() {
					}
					return
				}
			}
		}))
		return nil
	}
}

// writeEvent serializes one event as an SSE frame and flushes it to the
// client immediately.
func writeEvent(w *bufio.Writer, ev stream.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.EventName(), payload); err != nil {
		return err
	}
	return w.Flush()
}

func handleStatus(registry *stream.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap := registry.Status()
		return c.JSON(fiber.Map{
			"status":              "running",
			"active_connections":  snap.ActiveCount,
			"capacity":            snap.Capacity,
			"monitored_locations": snap.MonitoredLocations,
			"timestamp":           time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func handleHeartbeat(registry *stream.Registry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if !registry.Touch(id, time.Now()) {
			return fiber.NewError(fiber.StatusNotFound, "unknown connection")
		}
		return c.JSON(fiber.Map{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}
