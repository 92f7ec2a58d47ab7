package fusion

import (
	"context"
	"sort"

	"github.com/doujins-org/compkit/internal/normalize"
	"github.com/doujins-org/compkit/vision"
)

// VotingConfig holds the voting thresholds. Zero values get defaults; the
// defaults are tuning starting points, not contracts, except that agreement
// always lands at or above AgreeConfidence and a single unconfirmed source
// always lands below 0.7.
type VotingConfig struct {
	AgreeConfidence   float32 // default 0.85
	AgreeBonus        float32 // default 0.03 per agreeing provider beyond two
	SingleFloor       float32 // default 0.4
	SingleCeil        float32 // default 0.69
	DisagreeCap       float32 // default 0.6
	MinSecondaryScore float32 // default 0.5

	// FieldPriority lists provider IDs that win disagreements for a field,
	// in order. Providers absent from the list rank after it, by ID.
	FieldPriority map[Field][]string
}

// Voting is the deterministic fusion strategy: per-field candidate
// extraction, case-insensitive agreement voting, priority fallback on
// disagreement.
type Voting struct {
	cfg VotingConfig
}

func NewVoting(cfg VotingConfig) *Voting {
	if cfg.AgreeConfidence <= 0 {
		cfg.AgreeConfidence = 0.85
	}
	if cfg.AgreeBonus <= 0 {
		cfg.AgreeBonus = 0.03
	}
	if cfg.SingleFloor <= 0 {
		cfg.SingleFloor = 0.4
	}
	if cfg.SingleCeil <= 0 {
		cfg.SingleCeil = 0.69
	}
	if cfg.DisagreeCap <= 0 {
		cfg.DisagreeCap = 0.6
	}
	if cfg.MinSecondaryScore <= 0 {
		cfg.MinSecondaryScore = 0.5
	}
	return &Voting{cfg: cfg}
}

type candidate struct {
	provider string
	label    string
	norm     string
	score    float32
}

// fieldCandidates maps one provider's raw shape onto per-field candidates:
// the top entity is the brand candidate, the best multi-word entity is the
// product-name candidate, the most prominent object is the category
// candidate.
func fieldCandidates(r vision.Result) map[Field]candidate {
	out := make(map[Field]candidate, 3)
	if !r.OK() {
		return out
	}

	for _, e := range r.Entities {
		norm := normalize.Label(e.Label)
		if norm == "" {
			continue
		}
		if _, ok := out[FieldBrand]; !ok {
			out[FieldBrand] = candidate{provider: r.ProviderID, label: e.Label, norm: norm, score: e.Score}
		}
		if _, ok := out[FieldProductName]; !ok && countWords(norm) >= 2 {
			out[FieldProductName] = candidate{provider: r.ProviderID, label: e.Label, norm: norm, score: e.Score}
		}
	}

	for _, o := range r.Objects {
		norm := normalize.Label(o.Label)
		if norm == "" {
			continue
		}
		score := o.Score
		if score <= 0 {
			score = 0.5
		}
		out[FieldCategory] = candidate{provider: r.ProviderID, label: o.Label, norm: norm, score: score}
		break
	}
	return out
}

func countWords(norm string) int {
	if norm == "" {
		return 0
	}
	n := 1
	for _, r := range norm {
		if r == ' ' {
			n++
		}
	}
	return n
}

func (v *Voting) Synthesize(_ context.Context, results []vision.Result) (AttributeSet, error) {
	perField := map[Field][]candidate{}
	for _, r := range results {
		for f, c := range fieldCandidates(r) {
			perField[f] = append(perField[f], c)
		}
	}
	// Candidate order must not depend on map iteration.
	for f := range perField {
		cs := perField[f]
		sort.SliceStable(cs, func(i, j int) bool { return cs[i].provider < cs[j].provider })
	}

	attrs := AttributeSet{
		FieldConfidence: map[Field]float32{},
		Provenance:      map[Field][]string{},
	}
	chosen := map[string]struct{}{}

	for _, f := range []Field{FieldBrand, FieldProductName, FieldCategory} {
		cs := perField[f]
		if len(cs) == 0 {
			continue
		}
		value, conf, contributors := v.vote(f, cs)
		switch f {
		case FieldBrand:
			attrs.Brand = value
		case FieldProductName:
			attrs.ProductName = value
		case FieldCategory:
			attrs.Category = value
		}
		attrs.FieldConfidence[f] = conf
		attrs.Provenance[f] = contributors
		chosen[normalize.Label(value)] = struct{}{}
		if conf > attrs.Confidence {
			attrs.Confidence = conf
		}
	}

	attrs.Secondary = v.secondary(results, chosen)
	return attrs, nil
}

// vote resolves one field. Agreement of two or more providers wins outright;
// a lone candidate is scaled by its own score; disagreement falls back to the
// field-priority provider with confidence capped.
func (v *Voting) vote(f Field, cs []candidate) (value string, conf float32, contributors []string) {
	groups := map[string][]candidate{}
	for _, c := range cs {
		groups[c.norm] = append(groups[c.norm], c)
	}

	var winner []candidate
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		if winner == nil || len(g) > len(winner) || (len(g) == len(winner) && g[0].norm < winner[0].norm) {
			winner = g
		}
	}

	if winner != nil {
		conf = v.cfg.AgreeConfidence + v.cfg.AgreeBonus*float32(len(winner)-2)
		if conf > 0.99 {
			conf = 0.99
		}
		best := v.preferred(f, winner)
		ids := make([]string, 0, len(winner))
		for _, c := range winner {
			ids = append(ids, c.provider)
		}
		sort.Strings(ids)
		return best.label, conf, ids
	}

	if len(cs) == 1 {
		c := cs[0]
		return c.label, v.singleConfidence(c.score), []string{c.provider}
	}

	// Disagreement: priority provider wins, confidence capped.
	best := v.preferred(f, cs)
	conf = v.singleConfidence(best.score)
	if conf > v.cfg.DisagreeCap {
		conf = v.cfg.DisagreeCap
	}
	return best.label, conf, []string{best.provider}
}

func (v *Voting) singleConfidence(score float32) float32 {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return v.cfg.SingleFloor + (v.cfg.SingleCeil-v.cfg.SingleFloor)*score
}

// preferred picks the candidate whose provider ranks highest in the field's
// priority list; unlisted providers rank after it in ID order.
func (v *Voting) preferred(f Field, cs []candidate) candidate {
	rank := func(provider string) int {
		for i, id := range v.cfg.FieldPriority[f] {
			if id == provider {
				return i
			}
		}
		return len(v.cfg.FieldPriority[f])
	}
	best := cs[0]
	for _, c := range cs[1:] {
		ri, rb := rank(c.provider), rank(best.provider)
		if ri < rb || (ri == rb && c.provider < best.provider) {
			best = c
		}
	}
	return best
}

// secondary is the union of remaining labels above the score threshold,
// deduplicated by normalized form and sorted.
func (v *Voting) secondary(results []vision.Result, chosen map[string]struct{}) []string {
	seen := map[string]string{}
	add := func(label string, score float32) {
		if score < v.cfg.MinSecondaryScore {
			return
		}
		norm := normalize.Label(label)
		if norm == "" {
			return
		}
		if _, taken := chosen[norm]; taken {
			return
		}
		if _, dup := seen[norm]; !dup {
			seen[norm] = norm
		}
	}
	for _, r := range results {
		if !r.OK() {
			continue
		}
		for _, e := range r.Entities {
			add(e.Label, e.Score)
		}
		for _, o := range r.Objects {
			score := o.Score
			if score <= 0 {
				score = 0.5
			}
			add(o.Label, score)
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
