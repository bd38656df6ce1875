package stage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout/internal/config"
	"github.com/sells-group/leadscout/internal/engine"
	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/pkg/overpass"
)

// kindSelectors maps a requested entity kind to the OSM tag filters that
// find it. Unknown kinds fall back to a name regex match.
var kindSelectors = map[string][]string{
	"school":     {`"amenity"="school"`, `"amenity"="music_school"`, `"amenity"="language_school"`},
	"college":    {`"amenity"="college"`, `"amenity"="university"`},
	"training":   {`"amenity"="training"`, `"office"="educational_institution"`},
	"clinic":     {`"amenity"="clinic"`, `"healthcare"="clinic"`},
	"dentist":    {`"amenity"="dentist"`},
	"pharmacy":   {`"amenity"="pharmacy"`},
	"restaurant": {`"amenity"="restaurant"`},
	"cafe":       {`"amenity"="cafe"`},
	"hotel":      {`"tourism"="hotel"`},
	"gym":        {`"leisure"="fitness_centre"`},
	"shop":       {`"shop"`},
	"office":     {`"office"`},
	"lawyer":     {`"office"="lawyer"`},
	"accountant": {`"office"="accountant"`},
}

// Radar discovers candidate entities from OpenStreetMap area sweeps.
type Radar struct {
	client overpass.Client
	cfg    config.RadarConfig
}

// NewRadar creates the discovery stage executor.
func NewRadar(client overpass.Client, cfg config.RadarConfig) *Radar {
	return &Radar{client: client, cfg: cfg}
}

func (r *Radar) Stage() model.Stage { return model.StageRadar }

// Execute sweeps the seed's region for entities matching the query and
// fans out one candidate payload per usable element. An empty sweep is a
// success with zero outputs, not a failure.
func (r *Radar) Execute(ctx context.Context, item *model.WorkItem) engine.StageResult {
	seed := item.Payload.Seed
	if seed == nil {
		return fatal(eris.New("radar: work item has no seed payload"))
	}
	if strings.TrimSpace(seed.Region) == "" {
		return fatal(eris.New("radar: seed has no region"))
	}

	elements, err := r.client.Query(ctx, overpass.QueryRequest{
		Area:        seed.Region,
		Selectors:   selectorsFor(seed.Query),
		TimeoutSecs: r.cfg.TimeoutSecs,
	})
	if err != nil {
		return classifyRadarErr(err)
	}

	minLen := r.cfg.MinNameLength
	if minLen <= 0 {
		minLen = 4
	}

	seen := make(map[string]struct{}, len(elements))
	var outputs []model.Payload
	for _, el := range elements {
		cand, ok := candidateFrom(el, seed)
		if !ok {
			continue
		}
		if len(cand.Name) < minLen {
			continue
		}
		// One element per way/relation pair; OSM often duplicates a
		// building as both.
		key := strings.ToLower(cand.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		outputs = append(outputs, model.Payload{Candidate: &cand})
		if r.cfg.MaxCandidates > 0 && len(outputs) >= r.cfg.MaxCandidates {
			break
		}
	}

	zap.L().Info("radar sweep complete",
		zap.String("mission_id", item.MissionID),
		zap.String("region", seed.Region),
		zap.Int("elements", len(elements)),
		zap.Int("candidates", len(outputs)),
	)
	return success(outputs...)
}

// selectorsFor resolves the query text to tag filters. Multi-word queries
// that are not a known kind become a case-insensitive name match.
func selectorsFor(query string) []string {
	q := strings.ToLower(strings.TrimSpace(query))
	if sels, ok := kindSelectors[q]; ok {
		return sels
	}
	// Singularize the common plural form before giving up on the map.
	if sels, ok := kindSelectors[strings.TrimSuffix(q, "s")]; ok {
		return sels
	}
	return []string{fmt.Sprintf(`"name"~"%s",i`, q)}
}

func candidateFrom(el overpass.Element, seed *model.SeedQuery) (model.Candidate, bool) {
	name := strings.TrimSpace(el.Tags["name"])
	if name == "" {
		return model.Candidate{}, false
	}

	lat, lon := el.Position()
	cand := model.Candidate{
		Name:    name,
		Kind:    seed.Query,
		Region:  seed.Region,
		Website: firstTag(el.Tags, "website", "contact:website", "url"),
		Email:   firstTag(el.Tags, "email", "contact:email"),
		Phone:   firstTag(el.Tags, "phone", "contact:phone"),
		Lat:     lat,
		Lon:     lon,
	}

	var addr []string
	if s := el.Tags["addr:street"]; s != "" {
		if n := el.Tags["addr:housenumber"]; n != "" {
			s = s + " " + n
		}
		addr = append(addr, s)
	}
	if c := el.Tags["addr:city"]; c != "" {
		addr = append(addr, c)
	}
	cand.Address = strings.Join(addr, ", ")

	return cand, true
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(tags[k]); v != "" {
			return v
		}
	}
	return ""
}

func classifyRadarErr(err error) engine.StageResult {
	if err == nil {
		return success()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retryable(err)
	}
	var apiErr *overpass.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 400 {
		// Bad QL compiles the same way every attempt.
		return fatal(err)
	}
	return retryable(err)
}
