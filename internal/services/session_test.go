package services

import (
	"context"
	"math/rand/v2"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yuv-man/asd-server/internal/models"
)

func seededCatalog(counts map[models.Area]int) *memStore {
	m := newMemStore()
	for area, n := range counts {
		for i := 0; i < n; i++ {
			m.addExercise(area, string(area))
		}
	}
	return m
}

func newSelector(catalog ExerciseLister) *SessionSelector {
	return NewSessionSelectorWithSource(catalog, rand.NewPCG(7, 11))
}

func countByArea(list []models.Exercise) map[models.Area]int {
	out := map[models.Area]int{}
	for _, e := range list {
		out[e.Area]++
	}
	return out
}

func assertDistinct(t *testing.T, list []models.Exercise) {
	t.Helper()
	seen := map[uuid.UUID]bool{}
	for _, e := range list {
		assert.False(t, seen[e.ID], "duplicate exercise %s", e.ID)
		seen[e.ID] = true
	}
}

func TestSelectEvenSplit(t *testing.T) {
	catalog := seededCatalog(map[models.Area]int{
		models.AreaOccupationalTherapy: 5,
		models.AreaSpeechTherapy:       5,
		models.AreaCognitive:           5,
	})
	s := newSelector(catalog)

	list, err := s.Select(context.Background(), []string{"occupationalTherapy", "speechTherapy", "cognitive"}, 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, map[models.Area]int{
		models.AreaOccupationalTherapy: 1,
		models.AreaSpeechTherapy:       1,
		models.AreaCognitive:           1,
	}, countByArea(list))
	assertDistinct(t, list)

	list, err = s.Select(context.Background(), []string{"speech,cognitive"}, 6)
	require.NoError(t, err)
	assert.Equal(t, map[models.Area]int{models.AreaSpeechTherapy: 3, models.AreaCognitive: 3}, countByArea(list))
	assertDistinct(t, list)
}

func TestSelectNeverExceedsSize(t *testing.T) {
	catalog := seededCatalog(map[models.Area]int{
		models.AreaSpeechTherapy: 5,
		models.AreaCognitive:     5,
	})
	// ceil(5/2) = 3 per area would give 6.
	list, err := newSelector(catalog).Select(context.Background(), []string{"speechTherapy", "cognitive"}, 5)
	require.NoError(t, err)
	assert.Len(t, list, 5)
	assertDistinct(t, list)
}

func TestSelectTopsUpShortArea(t *testing.T) {
	catalog := seededCatalog(map[models.Area]int{
		models.AreaSpeechTherapy: 5,
		models.AreaCognitive:     1,
	})
	list, err := newSelector(catalog).Select(context.Background(), []string{"speechTherapy", "cognitive"}, 4)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, map[models.Area]int{models.AreaSpeechTherapy: 3, models.AreaCognitive: 1}, countByArea(list))
	assertDistinct(t, list)
}

func TestSelectSmallCatalogShortSession(t *testing.T) {
	catalog := seededCatalog(map[models.Area]int{models.AreaCognitive: 2})
	list, err := newSelector(catalog).Select(context.Background(), []string{"cognitive", "speechTherapy"}, 5)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = newSelector(newMemStore()).Select(context.Background(), []string{"cognitive"}, 3)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSelectValidation(t *testing.T) {
	s := newSelector(newMemStore())

	_, err := s.Select(context.Background(), []string{"music", ""}, 3)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "areas")

	_, err = s.Select(context.Background(), []string{"cognitive"}, 0)
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "size")
}

type failingLister struct{}

func (failingLister) ListExercises(context.Context, models.Area) ([]models.Exercise, error) {
	return nil, errBoom
}

func TestSelectCatalogFailure(t *testing.T) {
	_, err := newSelector(failingLister{}).Select(context.Background(), []string{"cognitive"}, 2)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, errBoom)
}

func TestSelectReachesWholeArea(t *testing.T) {
	catalog := seededCatalog(map[models.Area]int{models.AreaCognitive: 4})
	s := newSelector(catalog)

	seen := map[uuid.UUID]int{}
	for i := 0; i < 200; i++ {
		list, err := s.Select(context.Background(), []string{"cognitive"}, 1)
		require.NoError(t, err)
		require.Len(t, list, 1)
		seen[list[0].ID]++
	}
	assert.Len(t, seen, 4)
	for id, n := range seen {
		assert.Greater(t, n, 20, "exercise %s drawn %d times", id, n)
	}
}

func TestParseAreas(t *testing.T) {
	got := ParseAreas([]string{"ot, speech", "Cognitive", "bogus", "OT"})
	assert.Equal(t, []models.Area{
		models.AreaOccupationalTherapy,
		models.AreaSpeechTherapy,
		models.AreaCognitive,
	}, got)
	assert.Empty(t, ParseAreas(nil))
}
