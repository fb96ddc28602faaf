package chroma_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/quietvale/notevault/pkg/logger"
	"github.com/quietvale/notevault/pkg/vector"
	"github.com/quietvale/notevault/pkg/vector/chroma"
)

func TestChroma(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Chroma Suite")
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}
func (stubEmbedder) Close() error { return nil }

// chromaStub records request bodies per endpoint suffix and serves
// canned responses for the v2 collection API.
type chromaStub struct {
	mu         chan struct{}
	queryBody  map[string]any
	upsertBody map[string]any
	deleteBody map[string]any
	queryResp  map[string]any
	queryCode  int
	server     *httptest.Server
}

func newChromaStub() *chromaStub {
	s := &chromaStub{
		mu:        make(chan struct{}, 1),
		queryCode: http.StatusOK,
		queryResp: map[string]any{
			"ids":       [][]string{{}},
			"distances": [][]float32{{}},
			"metadatas": [][]map[string]any{{}},
			"documents": [][]string{{}},
		},
	}
	s.mu <- struct{}{}
	s.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-s.mu
		defer func() { s.mu <- struct{}{} }()

		switch {
		case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/collections/"):
			json.NewEncoder(w).Encode(map[string]string{"id": "col-1", "name": "notes"})
		case strings.HasSuffix(r.URL.Path, "/query"):
			json.NewDecoder(r.Body).Decode(&s.queryBody)
			w.WriteHeader(s.queryCode)
			json.NewEncoder(w).Encode(s.queryResp)
		case strings.HasSuffix(r.URL.Path, "/upsert"):
			json.NewDecoder(r.Body).Decode(&s.upsertBody)
			json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		case strings.HasSuffix(r.URL.Path, "/delete"):
			json.NewDecoder(r.Body).Decode(&s.deleteBody)
			json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		default:
			http.NotFound(w, r)
		}
	}))
	return s
}

var _ = Describe("Store", func() {
	var (
		stub  *chromaStub
		store *chroma.Store
		ctx   context.Context
	)

	BeforeEach(func() {
		stub = newChromaStub()
		DeferCleanup(stub.server.Close)

		var err error
		store, err = chroma.NewStore(chroma.Config{URL: stub.server.URL}, stubEmbedder{}, logger.Nop())
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	Describe("NewStore", func() {
		It("requires a URL", func() {
			_, err := chroma.NewStore(chroma.Config{}, stubEmbedder{}, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("chroma URL is required")))
		})

		It("requires an embedder", func() {
			_, err := chroma.NewStore(chroma.Config{URL: stub.server.URL}, nil, logger.Nop())
			Expect(err).To(MatchError(ContainSubstring("embedder is required")))
		})
	})

	Describe("Search", func() {
		It("sends the query embedding without a where clause when unfiltered", func() {
			_, err := store.Search(ctx, "standup notes", 5, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(stub.queryBody["n_results"]).To(BeEquivalentTo(5))
			Expect(stub.queryBody).NotTo(HaveKey("where"))
		})

		It("translates a numeric range filter into a $and where clause", func() {
			gte, lte := int64(1736812800), int64(1736899200)
			filter := &vector.Filter{
				Ranges: []vector.NumericRange{{Field: "entry_date_ts", GTE: &gte, LTE: &lte}},
			}
			_, err := store.Search(ctx, "standup notes", 5, filter)
			Expect(err).NotTo(HaveOccurred())

			where, ok := stub.queryBody["where"].(map[string]any)
			Expect(ok).To(BeTrue())
			conds, ok := where["$and"].([]any)
			Expect(ok).To(BeTrue())
			Expect(conds).To(HaveLen(2))
		})

		It("maps response rows onto chunks with metadata and scores", func() {
			stub.queryResp = map[string]any{
				"ids":       [][]string{{"c1"}},
				"distances": [][]float32{{1.0}},
				"documents": [][]string{{"Talked through the rollout."}},
				"metadatas": [][]map[string]any{{{
					"source":        "daily/standup.md",
					"title":         "Standup",
					"entry_date":    "2025-01-14",
					"entry_date_ts": float64(1736812800),
				}}},
			}

			chunks, err := store.Search(ctx, "rollout", 5, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(chunks).To(HaveLen(1))
			Expect(chunks[0].ID).To(Equal("c1"))
			Expect(chunks[0].Content).To(Equal("Talked through the rollout."))
			Expect(chunks[0].Metadata.Source).To(Equal("daily/standup.md"))
			Expect(chunks[0].Metadata.EntryDateTS).To(Equal(int64(1736812800)))
			Expect(chunks[0].Score).To(BeNumerically("~", 0.5, 0.001))
		})

		It("returns ErrFilterUnsupported when a filtered query is rejected", func() {
			stub.queryCode = http.StatusUnprocessableEntity
			gte := int64(1)
			_, err := store.Search(ctx, "rollout", 5, &vector.Filter{
				Ranges: []vector.NumericRange{{Field: "entry_date_ts", GTE: &gte}},
			})
			Expect(err).To(MatchError(vector.ErrFilterUnsupported))
		})
	})

	Describe("Add", func() {
		It("upserts ids, embeddings, documents, and flattened metadata", func() {
			err := store.Add(ctx, []vector.Chunk{{
				ID:      "c1",
				Content: "Talked through the rollout.",
				Metadata: vector.Metadata{
					Source:   "daily/standup.md",
					Title:    "Standup",
					Entities: []string{"person:Alice"},
				},
			}})
			Expect(err).NotTo(HaveOccurred())

			Expect(stub.upsertBody["ids"]).To(Equal([]any{"c1"}))
			metas, ok := stub.upsertBody["metadatas"].([]any)
			Expect(ok).To(BeTrue())
			meta, ok := metas[0].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(meta["source"]).To(Equal("daily/standup.md"))
			Expect(meta["entities"]).To(Equal("person:Alice"))
		})

		It("is a no-op for an empty batch", func() {
			Expect(store.Add(ctx, nil)).To(Succeed())
			Expect(stub.upsertBody).To(BeNil())
		})
	})

	Describe("Delete", func() {
		It("posts the ids to the delete endpoint", func() {
			Expect(store.Delete(ctx, []string{"c1", "c2"})).To(Succeed())
			Expect(stub.deleteBody["ids"]).To(Equal([]any{"c1", "c2"}))
		})
	})
})
