package stage

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/engine"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/pkg/overpass"
)

type fakeOverpass struct {
	elements []overpass.Element
	err      error
	lastReq  overpass.QueryRequest
}

func (f *fakeOverpass) Query(_ context.Context, req overpass.QueryRequest) ([]overpass.Element, error) {
	f.lastReq = req
	return f.elements, f.err
}

func radarItem(query, region string) *model.WorkItem {
	return &model.WorkItem{
		ID:        "w1",
		MissionID: "m1",
		Stage:     model.StageRadar,
		Payload:   model.Payload{Seed: &model.SeedQuery{Query: query, Region: region}},
	}
}

func osmElement(name string, extra map[string]string) overpass.Element {
	tags := map[string]string{"name": name}
	for k, v := range extra {
		tags[k] = v
	}
	return overpass.Element{Type: "node", Lat: 52.52, Lon: 13.4, Tags: tags}
}

func TestRadar_MapsElementsToCandidates(t *testing.T) {
	client := &fakeOverpass{elements: []overpass.Element{
		osmElement("Harmony Music School", map[string]string{
			"website":          "https://harmony.example.com",
			"contact:email":    "hello@harmony.example.com",
			"phone":            "+49 30 1234567",
			"addr:street":      "Hauptstrasse",
			"addr:housenumber": "12",
			"addr:city":        "Berlin",
		}),
	}}
	r := NewRadar(client, config.RadarConfig{})

	res := r.Execute(context.Background(), radarItem("music school", "Berlin"))
	require.Equal(t, engine.DispositionSuccess, res.Disposition)
	require.Len(t, res.Outputs, 1)

	cand := res.Outputs[0].Candidate
	require.NotNil(t, cand)
	assert.Equal(t, "Harmony Music School", cand.Name)
	assert.Equal(t, "Berlin", cand.Region)
	assert.Equal(t, "https://harmony.example.com", cand.Website)
	assert.Equal(t, "hello@harmony.example.com", cand.Email)
	assert.Equal(t, "+49 30 1234567", cand.Phone)
	assert.Equal(t, "Hauptstrasse 12, Berlin", cand.Address)
	assert.InDelta(t, 52.52, cand.Lat, 0.001)
}

func TestRadar_KnownKindUsesTagSelectors(t *testing.T) {
	client := &fakeOverpass{}
	r := NewRadar(client, config.RadarConfig{})

	_ = r.Execute(context.Background(), radarItem("school", "Berlin"))
	assert.Contains(t, client.lastReq.Selectors, `"amenity"="school"`)
	assert.Equal(t, "Berlin", client.lastReq.Area)
}

func TestRadar_PluralKindSingularized(t *testing.T) {
	client := &fakeOverpass{}
	r := NewRadar(client, config.RadarConfig{})

	_ = r.Execute(context.Background(), radarItem("restaurants", "Berlin"))
	assert.Contains(t, client.lastReq.Selectors, `"amenity"="restaurant"`)
}

func TestRadar_UnknownQueryFallsBackToNameMatch(t *testing.T) {
	client := &fakeOverpass{}
	r := NewRadar(client, config.RadarConfig{})

	_ = r.Execute(context.Background(), radarItem("driving instructor", "Berlin"))
	require.Len(t, client.lastReq.Selectors, 1)
	assert.Contains(t, client.lastReq.Selectors[0], "driving instructor")
}

func TestRadar_FiltersShortAndUnnamed(t *testing.T) {
	client := &fakeOverpass{elements: []overpass.Element{
		osmElement("Harmony Music School", nil),
		osmElement("ABC", nil),
		{Type: "node", Tags: map[string]string{"amenity": "school"}},
	}}
	r := NewRadar(client, config.RadarConfig{MinNameLength: 4})

	res := r.Execute(context.Background(), radarItem("school", "Berlin"))
	require.Equal(t, engine.DispositionSuccess, res.Disposition)
	assert.Len(t, res.Outputs, 1)
}

func TestRadar_DedupsWayAndRelationPairs(t *testing.T) {
	client := &fakeOverpass{elements: []overpass.Element{
		osmElement("Harmony Music School", nil),
		osmElement("HARMONY MUSIC SCHOOL", nil),
	}}
	r := NewRadar(client, config.RadarConfig{})

	res := r.Execute(context.Background(), radarItem("school", "Berlin"))
	assert.Len(t, res.Outputs, 1)
}

func TestRadar_MaxCandidatesCap(t *testing.T) {
	client := &fakeOverpass{elements: []overpass.Element{
		osmElement("Alpha Academy", nil),
		osmElement("Beta Academy", nil),
		osmElement("Gamma Academy", nil),
	}}
	r := NewRadar(client, config.RadarConfig{MaxCandidates: 2})

	res := r.Execute(context.Background(), radarItem("school", "Berlin"))
	assert.Len(t, res.Outputs, 2)
}

func TestRadar_EmptySweepIsSuccess(t *testing.T) {
	r := NewRadar(&fakeOverpass{}, config.RadarConfig{})

	res := r.Execute(context.Background(), radarItem("school", "Berlin"))
	assert.Equal(t, engine.DispositionSuccess, res.Disposition)
	assert.Empty(t, res.Outputs)
}

func TestRadar_MissingSeedIsFatal(t *testing.T) {
	r := NewRadar(&fakeOverpass{}, config.RadarConfig{})

	res := r.Execute(context.Background(), &model.WorkItem{ID: "w1", Stage: model.StageRadar})
	assert.Equal(t, engine.DispositionFatal, res.Disposition)
}

func TestRadar_MissingRegionIsFatal(t *testing.T) {
	r := NewRadar(&fakeOverpass{}, config.RadarConfig{})

	res := r.Execute(context.Background(), radarItem("school", "  "))
	assert.Equal(t, engine.DispositionFatal, res.Disposition)
}

func TestRadar_ServerErrorRetryable(t *testing.T) {
	client := &fakeOverpass{err: &overpass.APIError{StatusCode: 504, Body: "gateway timeout"}}
	r := NewRadar(client, config.RadarConfig{})

	res := r.Execute(context.Background(), radarItem("school", "Berlin"))
	assert.Equal(t, engine.DispositionRetryable, res.Disposition)
}

func TestRadar_BadQueryFatal(t *testing.T) {
	client := &fakeOverpass{err: &overpass.APIError{StatusCode: 400, Body: "parse error"}}
	r := NewRadar(client, config.RadarConfig{})

	res := r.Execute(context.Background(), radarItem("school", "Berlin"))
	assert.Equal(t, engine.DispositionFatal, res.Disposition)
}

func TestRadar_NetworkErrorRetryable(t *testing.T) {
	client := &fakeOverpass{err: eris.New("all mirrors failed")}
	r := NewRadar(client, config.RadarConfig{})

	res := r.Execute(context.Background(), radarItem("school", "Berlin"))
	assert.Equal(t, engine.DispositionRetryable, res.Disposition)
}
