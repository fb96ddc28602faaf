package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/quietvale/notevault/pkg/daterange"
	"github.com/quietvale/notevault/pkg/index"
	"github.com/quietvale/notevault/pkg/llm"
	"github.com/quietvale/notevault/pkg/names"
	"github.com/quietvale/notevault/pkg/retrieve"
	"github.com/quietvale/notevault/pkg/vector"
)

func TestAPI(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "API Suite")
}

type fakeStore struct {
	mu      sync.Mutex
	chunks  []vector.Chunk
	queries []string
	err     error
}

func (f *fakeStore) Search(_ context.Context, query string, k int, _ *vector.Filter) ([]vector.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	out := f.chunks
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeStore) Add(_ context.Context, chunks []vector.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeStore) Delete(context.Context, []string) error { return nil }
func (f *fakeStore) Close() error                           { return nil }

type fakeGenerator struct {
	mu        sync.Mutex
	response  string
	fragments []string
	err       error
	version   string
	prompts   []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string, _ llm.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.response, f.err
}

func (f *fakeGenerator) Stream(_ context.Context, prompt string, _ llm.Options, fn func(string) error) error {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	fragments, err := f.fragments, f.err
	f.mu.Unlock()
	for _, fr := range fragments {
		if ferr := fn(fr); ferr != nil {
			return ferr
		}
	}
	return err
}

func (f *fakeGenerator) Version(context.Context) (string, error) {
	if f.version == "" {
		return "", errors.New("version unavailable")
	}
	return f.version, nil
}

func (f *fakeGenerator) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2}, nil
}

func (f *fakeEmbedder) Close() error { return nil }

func chunkFixture(id, source, title, date, content string) vector.Chunk {
	var ts int64
	if date != "" {
		t, err := time.Parse("2006-01-02", date)
		Expect(err).NotTo(HaveOccurred())
		ts = t.Unix()
	}
	return vector.Chunk{
		ID:      id,
		Content: content,
		Metadata: vector.Metadata{
			Source:      source,
			Title:       title,
			EntryDate:   date,
			EntryDateTS: ts,
		},
	}
}

var _ = Describe("Server", func() {
	var (
		server    *Server
		store     *fakeStore
		generator *fakeGenerator
		embedder  *fakeEmbedder
		jobs      *index.JobStore
		vault     string
	)

	newServer := func() *Server {
		resolver := daterange.NewResolver(zap.NewNop())
		engine := retrieve.NewEngine(store, resolver, retrieve.Config{Timezone: "UTC"}, zap.NewNop())
		extractor := names.NewExtractor(nil, zap.NewNop())
		builder := index.NewBuilder(store, extractor, index.Config{
			VaultPath: vault,
			StatePath: filepath.Join(vault, ".state.json"),
		}, zap.NewNop())
		return NewServer(
			Config{
				ListenAddr:   ":0",
				Timezone:     "UTC",
				TopK:         5,
				SystemPrompt: "You answer from notes.",
			},
			engine, store, generator, embedder, resolver, builder, jobs, nil, zap.NewNop(),
		)
	}

	BeforeEach(func() {
		store = &fakeStore{}
		generator = &fakeGenerator{response: "the answer", version: "0.5.1"}
		embedder = &fakeEmbedder{}
		jobs = index.NewJobStore()
		vault = GinkgoT().TempDir()
		server = newServer()
	})

	postJSON := func(path string, body any) *http.Response {
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(raw)))
		req.Header.Set("Content-Type", "application/json")
		resp, err := server.app.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	getJSON := func(path string, out any) *http.Response {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp, err := server.app.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		if out != nil {
			Expect(json.NewDecoder(resp.Body).Decode(out)).To(Succeed())
		}
		return resp
	}

	Describe("POST /query", func() {
		BeforeEach(func() {
			store.chunks = []vector.Chunk{
				chunkFixture("a", "daily/standup.md", "Standup", "2025-01-14", "Talked through the rollout."),
				chunkFixture("b", "projects/rollout.md", "Rollout", "", "Rollout plan details."),
			}
		})

		It("answers with sources in rank order", func() {
			resp := postJSON("/query", QueryRequest{Question: "How did the rollout go?"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out QueryResponse
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out.Answer).To(Equal("the answer"))
			Expect(out.Sources).To(Equal([]string{"daily/standup.md", "projects/rollout.md"}))
		})

		It("assembles the prompt with context blocks and a legend", func() {
			postJSON("/query", QueryRequest{Question: "How did the rollout go?"})

			prompt := generator.lastPrompt()
			Expect(prompt).To(HavePrefix("You answer from notes."))
			Expect(prompt).To(ContainSubstring("Question:\nHow did the rollout go?"))
			Expect(prompt).To(ContainSubstring("[1] (daily/standup.md) date=2025-01-14; title=Standup"))
			Expect(prompt).To(ContainSubstring("Talked through the rollout."))
			Expect(prompt).To(ContainSubstring("Sources (use these numbers for citations):"))
			Expect(prompt).To(ContainSubstring("[1] daily/standup.md — Standup — 2025-01-14"))
			Expect(prompt).To(ContainSubstring("Current date/time:"))
			Expect(prompt).To(HaveSuffix("Answer:"))
		})

		It("rejects an empty question", func() {
			resp := postJSON("/query", QueryRequest{Question: "   "})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects a malformed body", func() {
			req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader("{not json"))
			req.Header.Set("Content-Type", "application/json")
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("maps generation failure to a bad gateway", func() {
			generator.err = errors.New("model offline")
			resp := postJSON("/query", QueryRequest{Question: "anything at all?"})
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
		})
	})

	Describe("POST /query/stream", func() {
		BeforeEach(func() {
			store.chunks = []vector.Chunk{
				chunkFixture("a", "daily/standup.md", "Standup", "2025-01-14", "Talked through the rollout."),
			}
		})

		It("streams fragments as plain text with a trailing newline", func() {
			generator.fragments = []string{"The ", "rollout ", "went fine."}
			resp := postJSON("/query/stream", QueryRequest{Question: "How did the rollout go?"})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/plain"))

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("The rollout went fine.\n"))
		})

		It("appends an error line when the stream breaks midway", func() {
			generator.fragments = []string{"Partial "}
			generator.err = errors.New("connection reset")
			resp := postJSON("/query/stream", QueryRequest{Question: "How did the rollout go?"})

			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(HavePrefix("Partial "))
			Expect(string(body)).To(ContainSubstring("[Error] streaming failed: connection reset"))
			Expect(string(body)).To(HaveSuffix("\n"))
		})
	})

	Describe("reindex endpoints", func() {
		writeNote := func(rel, content string) {
			path := filepath.Join(vault, rel)
			Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
			Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
		}

		It("starts a full build and reports it finished", func() {
			writeNote("daily.md", "## 2025-01-14\nShipped the thing.")

			resp := postJSON("/reindex", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out["status"]).To(Equal("started"))

			Eventually(func() bool {
				return jobs.Status().Running
			}).Should(BeFalse())
			st := jobs.Status()
			Expect(st.OK).To(BeTrue())
			Expect(st.Chunks).To(BeNumerically(">", 0))
			Expect(st.Mode).To(Equal("full"))
		})

		It("rejects a second build while one is running", func() {
			_, ok := jobs.TryStart("full", nil)
			Expect(ok).To(BeTrue())

			var out map[string]any
			resp := postJSON("/reindex", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out["status"]).To(Equal("running"))
			Expect(out["last"]).NotTo(BeNil())
		})

		It("builds only the named files", func() {
			writeNote("keep.md", "## 2025-01-14\nKeep me.")
			writeNote("skip.md", "## 2025-01-14\nSkip me.")

			resp := postJSON("/reindex/files", ReindexFilesRequest{Files: []string{"keep.md"}})
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			Eventually(func() bool {
				return jobs.Status().Running
			}).Should(BeFalse())
			Expect(jobs.Status().Mode).To(Equal("files"))
			Expect(jobs.Status().Files).To(Equal([]string{"keep.md"}))

			store.mu.Lock()
			defer store.mu.Unlock()
			sources := make([]string, 0, len(store.chunks))
			for _, c := range store.chunks {
				sources = append(sources, c.Metadata.Source)
			}
			Expect(sources).To(ContainElement("keep.md"))
			Expect(sources).NotTo(ContainElement("skip.md"))
		})

		It("requires a file list", func() {
			resp := postJSON("/reindex/files", ReindexFilesRequest{})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("reports status", func() {
			var out map[string]any
			resp := getJSON("/reindex/status", &out)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(out["running"]).To(Equal(false))
		})
	})

	Describe("GET /health", func() {
		It("reports ok with version, now, and a sample", func() {
			generator.response = "pong"
			var out map[string]any
			resp := getJSON("/health", &out)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(out["ok"]).To(Equal(true))
			Expect(out["ollama_version"]).To(Equal("0.5.1"))
			Expect(out["sample"]).To(Equal("pong"))
			now, castOK := out["now"].(map[string]any)
			Expect(castOK).To(BeTrue())
			Expect(now["tz"]).To(Equal("UTC"))
		})

		It("reports the version stage on version failure", func() {
			generator.version = ""
			var out map[string]any
			getJSON("/health", &out)
			Expect(out["ok"]).To(Equal(false))
			Expect(out["stage"]).To(Equal("ollama/version"))
		})

		It("reports the embeddings stage on embed failure", func() {
			embedder.err = errors.New("embedding model missing")
			var out map[string]any
			getJSON("/health", &out)
			Expect(out["ok"]).To(Equal(false))
			Expect(out["stage"]).To(Equal("embeddings"))
			Expect(out["error"]).To(ContainSubstring("embedding model missing"))
		})

		It("reports the generate stage on generation failure", func() {
			generator.err = errors.New("no such model")
			var out map[string]any
			getJSON("/health", &out)
			Expect(out["ok"]).To(Equal(false))
			Expect(out["stage"]).To(Equal("generate"))
		})
	})

	Describe("GET /debug/parse-dates", func() {
		It("returns the resolved range", func() {
			var out map[string]any
			resp := getJSON("/debug/parse-dates?q=notes+since+2025-01-01", &out)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(out["start"]).To(Equal("2025-01-01"))
			Expect(out["end"]).To(Equal("2025-01-01"))
		})

		It("requires q", func() {
			resp := getJSON("/debug/parse-dates", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /debug/retrieve", func() {
		It("returns ranked raw hits with snippets", func() {
			store.chunks = []vector.Chunk{
				chunkFixture("a", "daily/standup.md", "Standup", "2025-01-14", strings.Repeat("x", 400)),
			}

			var out []retrieveHit
			resp := getJSON("/debug/retrieve?q=rollout&k=3", &out)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(out).To(HaveLen(1))
			Expect(out[0].Rank).To(Equal(1))
			Expect(out[0].Source).To(Equal("daily/standup.md"))
			Expect(out[0].EntryDate).To(Equal("2025-01-14"))
			Expect(out[0].Snippet).To(HaveLen(300))
		})

		It("searches without any date filtering", func() {
			store.chunks = []vector.Chunk{
				chunkFixture("a", "old.md", "Old", "2019-06-01", "ancient history"),
			}
			var out []retrieveHit
			getJSON("/debug/retrieve?q=what+happened+yesterday", &out)
			Expect(out).To(HaveLen(1))
		})
	})

	Describe("GET /debug/retrieve-dated", func() {
		It("applies the engine's date filtering", func() {
			store.chunks = []vector.Chunk{
				chunkFixture("a", "old.md", "Old", "2019-06-01", "ancient history"),
			}
			var out []retrieveHit
			resp := getJSON("/debug/retrieve-dated?q=what+happened+yesterday", &out)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(out).To(BeEmpty())
		})
	})

	Describe("POST /debug/split-by-date", func() {
		It("splits form text into dated sections", func() {
			form := "text=" + strings.ReplaceAll(
				"## 2025-01-14\nfirst day\n## 2025-01-15\nsecond day", "\n", "%0A")
			req := httptest.NewRequest(http.MethodPost, "/debug/split-by-date", strings.NewReader(form))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var out struct {
				TotalSections int            `json:"total_sections"`
				Sections      []splitSection `json:"sections"`
			}
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out.TotalSections).To(Equal(2))
			Expect(out.Sections[0].EntryDate).To(Equal("2025-01-14"))
			Expect(out.Sections[0].Snippet).To(Equal("first day"))
			Expect(out.Sections[1].EntryDate).To(Equal("2025-01-15"))
		})

		It("rejects an empty request", func() {
			req := httptest.NewRequest(http.MethodPost, "/debug/split-by-date", strings.NewReader(""))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			resp, err := server.app.Test(req, -1)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})
})
