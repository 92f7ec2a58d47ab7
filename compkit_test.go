package compkit

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/doujins-org/compkit/embedder"
	"github.com/doujins-org/compkit/marketplace"
	"github.com/doujins-org/compkit/rank"
	"github.com/doujins-org/compkit/vision"
)

type fakeProvider struct {
	id     string
	result vision.Result
	err    error
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Analyze(_ context.Context, _ vision.Image) (vision.Result, error) {
	if f.err != nil {
		return vision.Result{}, f.err
	}
	return f.result, nil
}

type fakeMarketplace struct {
	listings []marketplace.Listing
	err      error

	calls   int
	queries []string
}

func (f *fakeMarketplace) Search(_ context.Context, query string, _ int) ([]marketplace.Listing, error) {
	f.calls++
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.listings, nil
}

// byteEmbedder maps payloads to fixed vectors, failing on unknown payloads.
type byteEmbedder struct {
	vectors map[string][]float32
}

func (b *byteEmbedder) Model() string   { return "test" }
func (b *byteEmbedder) Dimensions() int { return 3 }

func (b *byteEmbedder) EmbedImage(_ context.Context, img embedder.Image) ([]float32, error) {
	v, ok := b.vectors[string(img.Bytes)]
	if !ok {
		return nil, fmt.Errorf("unknown payload")
	}
	return v, nil
}

type byteFetcher struct {
	payloads map[string][]byte
}

func (b *byteFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	p, ok := b.payloads[url]
	if !ok {
		return nil, errors.New("404")
	}
	return p, nil
}

func photo() vision.Image {
	return vision.Image{ContentType: "image/jpeg", Bytes: []byte("photo")}
}

func agreeingProviders() []vision.Provider {
	return []vision.Provider{
		&fakeProvider{id: "a", result: vision.Result{
			Entities: []vision.Entity{{Label: "Acme", Score: 0.9}},
			Objects:  []vision.Object{{Label: "Sneakers", Score: 0.9}},
		}},
		&fakeProvider{id: "b", result: vision.Result{
			Entities: []vision.Entity{{Label: "acme", Score: 0.8}},
			Objects:  []vision.Object{{Label: "sneakers", Score: 0.8}},
		}},
		&fakeProvider{id: "c", err: errors.New("down")},
	}
}

type clientDeps struct {
	providers   []vision.Provider
	market      *fakeMarketplace
	embVectors  map[string][]float32
	payloads    map[string][]byte
	withEncoder bool
}

func newTestClient(t *testing.T, d clientDeps) *Client {
	t.Helper()

	gw, err := vision.NewGateway(vision.GatewayConfig{Providers: d.providers})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}

	var svc *embedder.Service
	if d.withEncoder {
		svc, err = embedder.NewService(embedder.ServiceConfig{
			Embedder: &byteEmbedder{vectors: d.embVectors},
		})
		if err != nil {
			t.Fatalf("NewService: %v", err)
		}
	}

	engine, err := rank.NewEngine(rank.EngineConfig{
		Encoder: svc,
		Fetcher: &byteFetcher{payloads: d.payloads},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	client, err := NewClient(ClientConfig{
		Gateway:     gw,
		Marketplace: d.market,
		Ranker:      engine,
		Encoder:     svc,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestIdentifyAndRank_FullPipeline(t *testing.T) {
	t.Parallel()

	market := &fakeMarketplace{listings: []marketplace.Listing{
		{ExternalID: "far", ImageURL: "https://img/far", Rank: 0},
		{ExternalID: "near", ImageURL: "https://img/near", Rank: 1},
	}}
	client := newTestClient(t, clientDeps{
		providers: agreeingProviders(),
		market:    market,
		embVectors: map[string][]float32{
			"photo": {1, 0, 0},
			"near":  {0.99, 0.14, 0},
			"far":   {0, 1, 0},
		},
		payloads: map[string][]byte{
			"https://img/near": []byte("near"),
			"https://img/far":  []byte("far"),
		},
		withEncoder: true,
	})

	res, err := client.IdentifyAndRank(context.Background(), photo())
	if err != nil {
		t.Fatalf("IdentifyAndRank: %v", err)
	}
	if res.Degraded {
		t.Fatal("unexpected degraded result")
	}
	if res.Attributes.Confidence < 0.85 {
		t.Fatalf("expected agreement confidence >= 0.85, got %v", res.Attributes.Confidence)
	}
	if res.Query != "Acme" && res.Query != "acme" {
		t.Fatalf("expected query acme, got %q", res.Query)
	}
	if len(res.Listings) != 2 {
		t.Fatalf("expected 2 listings, got %d", len(res.Listings))
	}
	if res.Listings[0].Listing.ExternalID != "near" {
		t.Fatalf("expected visual re-rank to promote near, got %+v", res.Listings)
	}
	if res.Listings[0].Similarity == nil || res.Listings[1].Similarity == nil {
		t.Fatal("expected similarity scores in non-degraded mode")
	}
}

func TestIdentifyAndRank_AllProvidersFail(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, clientDeps{
		providers: []vision.Provider{
			&fakeProvider{id: "a", err: errors.New("down")},
			&fakeProvider{id: "b", err: errors.New("down")},
			&fakeProvider{id: "c", err: errors.New("down")},
		},
		market: &fakeMarketplace{},
	})

	_, err := client.IdentifyAndRank(context.Background(), photo())
	if !errors.Is(err, vision.ErrAllProvidersUnavailable) {
		t.Fatalf("expected ErrAllProvidersUnavailable, got %v", err)
	}
}

func TestIdentifyAndRank_EmptyQuerySkipsMarketplace(t *testing.T) {
	t.Parallel()

	market := &fakeMarketplace{}
	client := newTestClient(t, clientDeps{
		providers: []vision.Provider{
			// Succeeds but yields nothing identifiable.
			&fakeProvider{id: "a", result: vision.Result{RawText: "blurry"}},
		},
		market: market,
	})

	res, err := client.IdentifyAndRank(context.Background(), photo())
	if err != nil {
		t.Fatalf("IdentifyAndRank: %v", err)
	}
	if res.Query != "" {
		t.Fatalf("expected empty query, got %q", res.Query)
	}
	if market.calls != 0 {
		t.Fatalf("marketplace must not be searched with an empty query, got %d calls", market.calls)
	}
	if len(res.Listings) != 0 {
		t.Fatalf("expected no listings, got %+v", res.Listings)
	}
}

func TestIdentifyAndRank_MarketplaceFailureIsNoResults(t *testing.T) {
	t.Parallel()

	market := &fakeMarketplace{err: &marketplace.Error{Kind: marketplace.ErrorKindRateLimited}}
	client := newTestClient(t, clientDeps{
		providers: agreeingProviders(),
		market:    market,
	})

	res, err := client.IdentifyAndRank(context.Background(), photo())
	if err != nil {
		t.Fatalf("marketplace failure must not fail the pipeline: %v", err)
	}
	if len(res.Listings) != 0 {
		t.Fatalf("expected no listings, got %+v", res.Listings)
	}
	if res.Attributes.Empty() {
		t.Fatal("attributes must survive a marketplace failure")
	}
}

func TestIdentifyAndRank_DegradedWithoutEncoder(t *testing.T) {
	t.Parallel()

	market := &fakeMarketplace{listings: []marketplace.Listing{
		{ExternalID: "second", ImageURL: "https://img/2", Rank: 1},
		{ExternalID: "first", ImageURL: "https://img/1", Rank: 0},
	}}
	client := newTestClient(t, clientDeps{
		providers:   agreeingProviders(),
		market:      market,
		withEncoder: false,
	})

	res, err := client.IdentifyAndRank(context.Background(), photo())
	if err != nil {
		t.Fatalf("IdentifyAndRank: %v", err)
	}
	if !res.Degraded {
		t.Fatal("expected degraded result without encoder")
	}
	if res.Query == "" || res.Attributes.Empty() {
		t.Fatal("attributes and query must survive encoder unavailability")
	}
	if len(res.Listings) != 2 {
		t.Fatalf("expected passthrough listings, got %d", len(res.Listings))
	}
	if res.Listings[0].Listing.ExternalID != "first" {
		t.Fatalf("expected marketplace order, got %+v", res.Listings)
	}
	for _, l := range res.Listings {
		if l.Similarity != nil {
			t.Fatalf("degraded mode must not carry similarity, got %+v", l)
		}
	}
}

func TestIdentifyAndRank_CandidateFetchFailureDropsCandidate(t *testing.T) {
	t.Parallel()

	listings := make([]marketplace.Listing, 0, 10)
	payloads := map[string][]byte{}
	vectors := map[string][]float32{"photo": {1, 0, 0}}
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("l%d", i)
		url := "https://img/" + id
		listings = append(listings, marketplace.Listing{ExternalID: id, ImageURL: url, Rank: i})
		if i != 4 { // one image URL 404s
			payloads[url] = []byte(id)
			vectors[id] = []float32{1, float32(i) * 0.01, 0}
		}
	}

	client := newTestClient(t, clientDeps{
		providers:   agreeingProviders(),
		market:      &fakeMarketplace{listings: listings},
		embVectors:  vectors,
		payloads:    payloads,
		withEncoder: true,
	})

	res, err := client.IdentifyAndRank(context.Background(), photo())
	if err != nil {
		t.Fatalf("IdentifyAndRank: %v", err)
	}
	if len(res.Listings) != 9 {
		t.Fatalf("expected 9 listings after one drop, got %d", len(res.Listings))
	}
	for i, l := range res.Listings {
		if l.Listing.ExternalID == "l4" {
			t.Fatalf("dropped candidate present: %+v", l)
		}
		if i > 0 && *l.Similarity > *res.Listings[i-1].Similarity {
			t.Fatalf("listings not sorted by similarity: %+v", res.Listings)
		}
	}
}

func TestNewClient_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatal("expected error for missing gateway")
	}
}
