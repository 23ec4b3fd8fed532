package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/yuv-man/asd-server/internal/models"
)

// SessionSelector draws a practice session spread evenly across areas.
type SessionSelector struct {
	catalog ExerciseLister
	tracer  trace.Tracer

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSessionSelector(catalog ExerciseLister) *SessionSelector {
	seed := uint64(time.Now().UnixNano())
	return NewSessionSelectorWithSource(catalog, rand.NewPCG(seed, seed>>1|1))
}

func NewSessionSelectorWithSource(catalog ExerciseLister, src rand.Source) *SessionSelector {
	return &SessionSelector{
		catalog: catalog,
		tracer:  otel.Tracer("asd-server/session"),
		rng:     rand.New(src),
	}
}

// ParseAreas splits comma separated values, drops unknown names and
// duplicates, and keeps first-seen order.
func ParseAreas(raw []string) []models.Area {
	var areas []models.Area
	for _, item := range raw {
		for _, part := range strings.Split(item, ",") {
			a, ok := models.ParseArea(part)
			if ok && !slices.Contains(areas, a) {
				areas = append(areas, a)
			}
		}
	}
	return areas
}

// Select returns at most size exercises. Each area contributes up to
// ceil(size/len(areas)) picks drawn without replacement; short areas are
// topped up from the other areas' leftovers. Too small a catalog yields a
// shorter session, never an error.
func (s *SessionSelector) Select(ctx context.Context, rawAreas []string, size int) ([]models.Exercise, error) {
	areas := ParseAreas(rawAreas)
	if len(areas) == 0 {
		return nil, &ValidationError{Fields: map[string]string{"areas": "no valid areas"}}
	}
	if size <= 0 {
		return nil, &ValidationError{Fields: map[string]string{"size": "size must be a positive integer"}}
	}

	ctx, span := s.tracer.Start(ctx, "session.select", trace.WithAttributes(
		attribute.Int("session.size", size),
		attribute.Int("session.areas", len(areas)),
	))
	defer span.End()

	pools := make([][]models.Exercise, len(areas))
	g, gctx := errgroup.WithContext(ctx)
	for i, area := range areas {
		g.Go(func() error {
			list, err := s.catalog.ListExercises(gctx, area)
			if err != nil {
				return fmt.Errorf("list %s exercises: %w", area, err)
			}
			pools[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, &StorageError{Op: "list exercises", Err: err}
	}

	perArea := (size + len(areas) - 1) / len(areas)
	return s.draw(pools, perArea, size), nil
}

func (s *SessionSelector) draw(pools [][]models.Exercise, perArea, size int) []models.Exercise {
	s.mu.Lock()
	defer s.mu.Unlock()

	picked := make([]models.Exercise, 0, size)
	var rest []models.Exercise
	for _, pool := range pools {
		pool = slices.Clone(pool)
		s.shuffle(pool)
		n := min(perArea, len(pool))
		picked = append(picked, pool[:n]...)
		rest = append(rest, pool[n:]...)
	}

	if missing := size - len(picked); missing > 0 && len(rest) > 0 {
		s.shuffle(rest)
		picked = append(picked, rest[:min(missing, len(rest))]...)
	}

	s.shuffle(picked)
	if len(picked) > size {
		picked = picked[:size]
	}
	return picked
}

func (s *SessionSelector) shuffle(list []models.Exercise) {
	s.rng.Shuffle(len(list), func(i, j int) {
		list[i], list[j] = list[j], list[i]
	})
}
