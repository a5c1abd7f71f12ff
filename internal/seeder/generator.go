// Package seeder generates plausible interaction events for simulations
// and load tests.
package seeder

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/telhawk-systems/telhawk-beacon/internal/models"
)

// Item is one generated event and the screen it was captured on.
type Item struct {
	Event  models.Event
	Screen string
}

var (
	screens = []string{"Welcome", "Personal Details", "Address", "Employment", "Review", "Checkout"}
	fields  = []string{"first_name", "last_name", "email", "phone", "street", "city", "postcode", "employer", "income"}
)

// Generator produces form-filling journeys.
type Generator struct {
	faker *gofakeit.Faker
	now   func() time.Time
}

// New returns a Generator. A zero seed picks a random one.
func New(seed int64) *Generator {
	return &Generator{faker: gofakeit.New(seed), now: time.Now}
}

// Journey returns n events describing a user moving through screens and
// filling in fields, ending with a submit when n allows.
func (g *Generator) Journey(n int) []Item {
	items := make([]Item, 0, n)
	ts := g.now().UnixMilli()
	add := func(screen string, e models.Event) bool {
		if len(items) >= n {
			return false
		}
		ts += int64(g.faker.Number(40, 900))
		e.Timestamp = ts
		items = append(items, Item{Event: e, Screen: screen})
		return true
	}

	for len(items) < n {
		screen := g.faker.RandomString(screens)
		if !add(screen, models.Event{Type: models.EventWindowLoad}) {
			break
		}
		for _, field := range g.fieldsFor() {
			if !g.fill(screen, field, add) {
				break
			}
		}
		if g.faker.Number(0, 3) == 0 {
			add(screen, g.location())
		}
		add(screen, models.Event{Type: models.EventApplicationSubmit, Target: "submit"})
	}
	return items
}

func (g *Generator) fieldsFor() []string {
	count := g.faker.Number(2, 4)
	out := make([]string, count)
	for i := range out {
		out[i] = g.faker.RandomString(fields)
	}
	return out
}

func (g *Generator) fill(screen, field string, add func(string, models.Event) bool) bool {
	if !add(screen, g.tap(field)) {
		return false
	}
	if !add(screen, models.Event{Type: models.EventFocus, Target: field}) {
		return false
	}

	if g.faker.Number(0, 9) == 0 {
		if !add(screen, models.Event{
			Type:   models.EventPaste,
			Target: field,
			Attrs:  map[string]models.Value{"length": models.Int(int64(g.faker.Number(4, 40)))},
		}) {
			return false
		}
	} else {
		strokes := g.faker.Number(3, 12)
		for i := 0; i < strokes; i++ {
			if !add(screen, models.Event{Type: models.EventInput, Target: field}) {
				return false
			}
		}
	}

	if !add(screen, models.Event{
		Type:   models.EventTextChange,
		Target: field,
		Attrs:  map[string]models.Value{"length": models.Int(int64(g.faker.Number(1, 40)))},
	}) {
		return false
	}
	return add(screen, models.Event{Type: models.EventBlur, Target: field})
}

func (g *Generator) tap(target string) models.Event {
	return models.Event{
		Type:   models.EventTap,
		Target: target,
		Attrs: map[string]models.Value{
			"x":        models.Int(int64(g.faker.Number(0, 1080))),
			"y":        models.Int(int64(g.faker.Number(0, 2340))),
			"pressure": models.Double(g.faker.Float64Range(0.05, 1)),
		},
	}
}

func (g *Generator) location() models.Event {
	return models.Event{
		Type: models.EventLocation,
		Attrs: map[string]models.Value{
			"latitude":  models.Double(g.faker.Latitude()),
			"longitude": models.Double(g.faker.Longitude()),
		},
	}
}

// Run feeds n generated events to ingest, pausing interval between events.
// It stops early when ctx is canceled and returns the number fed.
func (g *Generator) Run(ctx context.Context, n int, interval time.Duration, ingest func(models.Event, string)) int {
	sent := 0
	for _, item := range g.Journey(n) {
		if ctx.Err() != nil {
			break
		}
		ingest(item.Event, item.Screen)
		sent++
		if interval > 0 {
			select {
			case <-ctx.Done():
				return sent
			case <-time.After(interval):
			}
		}
	}
	return sent
}
