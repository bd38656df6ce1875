package stage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/engine"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/pkg/serp"
)

type fakeSerp struct {
	resp      *serp.SearchResponse
	err       error
	lastQuery string
}

func (f *fakeSerp) Search(_ context.Context, query string, _ ...serp.SearchOption) (*serp.SearchResponse, error) {
	f.lastQuery = query
	return f.resp, f.err
}

func resolverItem(cand model.Candidate) *model.WorkItem {
	return &model.WorkItem{
		ID:        "w1",
		MissionID: "m1",
		Stage:     model.StageResolver,
		Payload:   model.Payload{Candidate: &cand},
	}
}

func liveServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestResolver_WebsiteTagWins(t *testing.T) {
	srv := liveServer(t)
	client := &fakeSerp{}
	r := NewResolver(client, config.ResolverConfig{}).WithProbeClient(srv.Client())

	res := r.Execute(context.Background(), resolverItem(model.Candidate{
		Name:    "Harmony Music School",
		Region:  "Berlin",
		Website: srv.URL,
	}))

	require.Equal(t, engine.DispositionSuccess, res.Disposition)
	require.Len(t, res.Outputs, 1)
	assert.Empty(t, client.lastQuery, "search never runs when the tag probes live")
	assert.Equal(t, srv.URL, res.Outputs[0].Target.URL)
}

func TestResolver_DeadWebsiteTagFallsBackToSearch(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(dead.Close)
	live := liveServer(t)

	client := &fakeSerp{resp: &serp.SearchResponse{Data: []serp.Result{{URL: live.URL}}}}
	r := NewResolver(client, config.ResolverConfig{}).WithProbeClient(live.Client())

	res := r.Execute(context.Background(), resolverItem(model.Candidate{
		Name:    "Harmony Music School",
		Region:  "Berlin",
		Website: dead.URL,
	}))

	require.Equal(t, engine.DispositionSuccess, res.Disposition)
	assert.NotEmpty(t, client.lastQuery)
	assert.Equal(t, live.URL, res.Outputs[0].Target.URL)
}

func TestResolver_SkipsImplausibleResults(t *testing.T) {
	live := liveServer(t)
	client := &fakeSerp{resp: &serp.SearchResponse{Data: []serp.Result{
		{URL: "https://www.facebook.com/harmonyschool"},
		{URL: "https://example.com/brochure.pdf"},
		{URL: live.URL},
	}}}
	r := NewResolver(client, config.ResolverConfig{
		DomainBlacklist: []string{"facebook"},
	}).WithProbeClient(live.Client())

	res := r.Execute(context.Background(), resolverItem(model.Candidate{Name: "Harmony", Region: "Berlin"}))
	require.Equal(t, engine.DispositionSuccess, res.Disposition)
	assert.Equal(t, live.URL, res.Outputs[0].Target.URL)
}

func TestResolver_URLLengthCap(t *testing.T) {
	r := NewResolver(&fakeSerp{}, config.ResolverConfig{MaxURLLength: 20})
	assert.False(t, r.plausible("https://example.com/some/very/long/path/el"))
	assert.True(t, r.plausible("https://short.io"))
}

func TestResolver_NoResolvableURLIsFatal(t *testing.T) {
	client := &fakeSerp{resp: &serp.SearchResponse{}}
	r := NewResolver(client, config.ResolverConfig{})

	res := r.Execute(context.Background(), resolverItem(model.Candidate{Name: "Ghost School", Region: "Berlin"}))
	assert.Equal(t, engine.DispositionFatal, res.Disposition)
}

func TestResolver_SearchErrorRetryable(t *testing.T) {
	client := &fakeSerp{err: eris.New("search service down")}
	r := NewResolver(client, config.ResolverConfig{})

	res := r.Execute(context.Background(), resolverItem(model.Candidate{Name: "Harmony", Region: "Berlin"}))
	assert.Equal(t, engine.DispositionRetryable, res.Disposition)
}

func TestResolver_MissingCandidateIsFatal(t *testing.T) {
	r := NewResolver(&fakeSerp{}, config.ResolverConfig{})

	res := r.Execute(context.Background(), &model.WorkItem{ID: "w1", Stage: model.StageResolver})
	assert.Equal(t, engine.DispositionFatal, res.Disposition)
}

func TestResolver_TargetCarriesNormalizedDomain(t *testing.T) {
	srv := liveServer(t)
	r := NewResolver(&fakeSerp{}, config.ResolverConfig{}).WithProbeClient(srv.Client())

	res := r.Execute(context.Background(), resolverItem(model.Candidate{
		Name:    "Harmony",
		Region:  "Berlin",
		Website: srv.URL,
	}))

	require.Equal(t, engine.DispositionSuccess, res.Disposition)
	target := res.Outputs[0].Target
	assert.NotContains(t, target.Domain, "www.")
	assert.NotContains(t, target.Domain, ":")
}

func TestResolver_GetFallbackWhenHeadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	r := NewResolver(&fakeSerp{}, config.ResolverConfig{}).WithProbeClient(srv.Client())

	res := r.Execute(context.Background(), resolverItem(model.Candidate{
		Name:    "Harmony",
		Region:  "Berlin",
		Website: srv.URL,
	}))
	assert.Equal(t, engine.DispositionSuccess, res.Disposition)
}

func TestTargetFingerprint_CanonicalAcrossForms(t *testing.T) {
	a := TargetFingerprint(model.Target{URL: "https://www.example.com/about/"})
	b := TargetFingerprint(model.Target{URL: "http://example.com/about"})
	assert.Equal(t, a, b)
}
