package index_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/quietvale/notevault/pkg/index"
	"github.com/quietvale/notevault/pkg/names"
	"github.com/quietvale/notevault/pkg/vector"
)

func TestIndex(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Index Suite")
}

type captureStore struct {
	added   []vector.Chunk
	deleted []string
}

func (c *captureStore) Search(context.Context, string, int, *vector.Filter) ([]vector.Chunk, error) {
	return nil, nil
}

func (c *captureStore) Add(_ context.Context, chunks []vector.Chunk) error {
	c.added = append(c.added, chunks...)
	return nil
}

func (c *captureStore) Delete(_ context.Context, ids []string) error {
	c.deleted = append(c.deleted, ids...)
	return nil
}

func (c *captureStore) Close() error { return nil }

var _ = Describe("date heading extraction", func() {
	DescribeTable("recognized forms",
		func(line, want string) {
			Expect(index.SplitByDateHeadings(line + "\nbody\n")[0].Date).To(Equal(want))
		},
		Entry("iso heading", "## 2025-10-11", "2025-10-11"),
		Entry("bold slash date with colon", "**11/10/2025:**", "2025-10-11"),
		Entry("bracketed heading", "# [2025-10-11]", "2025-10-11"),
		Entry("italic long form", "*11 Oct 2025:*", "2025-10-11"),
		Entry("bare long form", "11 October 2025", "2025-10-11"),
		Entry("full-width colon", "2025-10-11：", "2025-10-11"),
	)

	It("ignores ordinary text lines", func() {
		sections := index.SplitByDateHeadings("just some prose\nmore prose\n")
		Expect(sections).To(HaveLen(1))
		Expect(sections[0].Date).To(BeEmpty())
	})
})

var _ = Describe("SplitByDateHeadings", func() {
	It("attributes text to the preceding date heading", func() {
		text := "preamble\n\n## 2025-10-10\nfirst day\n\n## 2025-10-11\nsecond day\n"
		sections := index.SplitByDateHeadings(text)
		Expect(sections).To(HaveLen(3))
		Expect(sections[0]).To(Equal(index.DateSection{Date: "", Text: "preamble"}))
		Expect(sections[1]).To(Equal(index.DateSection{Date: "2025-10-10", Text: "first day"}))
		Expect(sections[2]).To(Equal(index.DateSection{Date: "2025-10-11", Text: "second day"}))
	})

	It("returns one undated section when no headings match", func() {
		sections := index.SplitByDateHeadings("plain note text")
		Expect(sections).To(HaveLen(1))
		Expect(sections[0].Date).To(BeEmpty())
		Expect(sections[0].Text).To(Equal("plain note text"))
	})
})

var _ = Describe("SentenceChunks", func() {
	It("packs sentences up to the target size", func() {
		text := "One sentence here. Another sentence there. A third one follows."
		chunks := index.SentenceChunks(text, 1000, 0)
		Expect(chunks).To(Equal([]string{text}))
	})

	It("starts a new chunk when the target is exceeded", func() {
		text := "First sentence ends. Second sentence ends. Third sentence ends."
		chunks := index.SentenceChunks(text, 45, 0)
		Expect(len(chunks)).To(BeNumerically(">", 1))
	})

	It("carries the previous sentence into the next chunk as overlap", func() {
		text := "Alpha beta gamma delta. Epsilon zeta eta theta. Iota kappa lambda mu."
		chunks := index.SentenceChunks(text, 50, 10)
		Expect(len(chunks)).To(BeNumerically(">=", 2))
		Expect(chunks[1]).To(HavePrefix("Epsilon zeta eta theta."))
	})
})

var _ = Describe("document loading", func() {
	var vault string

	BeforeEach(func() {
		var err error
		vault, err = os.MkdirTemp("", "vault-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(vault)
	})

	write := func(rel, content string) {
		path := filepath.Join(vault, rel)
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
	}

	It("parses front matter and keeps extras", func() {
		write("note.md", "---\ntitle: Weekly Sync\nproject: notevault\n---\nbody text\n")
		doc, err := index.LoadDocument(vault, "note.md")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Title).To(Equal("Weekly Sync"))
		Expect(doc.Extra).To(HaveKeyWithValue("project", "notevault"))
		Expect(doc.Text).To(Equal("body text\n"))
	})

	It("flattens list, numeric, and nested front matter fields", func() {
		write("note.md", "---\ntitle: Weekly Sync\ntags:\n  - work\n  - team\npriority: 3\nreview:\n  by: alice\n---\nbody\n")
		doc, err := index.LoadDocument(vault, "note.md")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Extra).To(HaveKeyWithValue("tags", "work,team"))
		Expect(doc.Extra).To(HaveKeyWithValue("priority", "3"))
		Expect(doc.Extra).To(HaveKeyWithValue("review", `{"by":"alice"}`))
	})

	It("derives the title from the filename when absent", func() {
		write("meeting-notes.md", "no front matter\n")
		doc, err := index.LoadDocument(vault, "meeting-notes.md")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Title).To(Equal("meeting notes"))
	})

	It("expands wikilinks to their alias or target", func() {
		write("note.md", "see [[project-plan]] and [[people/alice|Alice]]\n")
		doc, err := index.LoadDocument(vault, "note.md")
		Expect(err).NotTo(HaveOccurred())
		Expect(doc.Text).To(ContainSubstring("see project plan and Alice"))
	})

	It("lists notes recursively but skips .obsidian", func() {
		write("a.md", "a")
		write("sub/b.md", "b")
		write(".obsidian/config.md", "config")
		write("sub/readme.txt", "not markdown")
		notes, err := index.ListNotes(vault)
		Expect(err).NotTo(HaveOccurred())
		Expect(notes).To(Equal([]string{"a.md", "sub/b.md"}))
	})
})

var _ = Describe("Builder", func() {
	var (
		vault   string
		statep  string
		store   *captureStore
		builder *index.Builder
	)

	write := func(rel, content string) {
		path := filepath.Join(vault, rel)
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(content), 0o644)).To(Succeed())
	}

	BeforeEach(func() {
		var err error
		vault, err = os.MkdirTemp("", "vault-*")
		Expect(err).NotTo(HaveOccurred())
		statep = filepath.Join(vault, ".state", "index_state.json")
		store = &captureStore{}
		builder = index.NewBuilder(store, names.NewExtractor(nil, zap.NewNop()), index.Config{
			VaultPath: vault,
			StatePath: statep,
			ChunkSize: 900,
		}, zap.NewNop())
	})

	AfterEach(func() {
		os.RemoveAll(vault)
	})

	It("indexes dated chunks with timestamps", func() {
		write("log.md", "## 2025-01-10\ndid a thing.\n\n## 2025-01-11\ndid another thing.\n")
		n, err := builder.BuildAll(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
		Expect(store.added).To(HaveLen(2))
		Expect(store.added[0].Metadata.EntryDate).To(Equal("2025-01-10"))
		Expect(store.added[0].Metadata.EntryDateTS).NotTo(BeZero())
		Expect(store.added[0].Metadata.Source).To(Equal("log.md"))
		Expect(store.added[0].ID).To(HaveLen(32))
	})

	It("skips unchanged notes on a second build", func() {
		write("log.md", "some note content.\n")
		_, err := builder.BuildAll(context.Background())
		Expect(err).NotTo(HaveOccurred())
		added := len(store.added)

		n, err := builder.BuildAll(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
		Expect(store.added).To(HaveLen(added))
	})

	It("deletes chunks of removed notes", func() {
		write("log.md", "some note content.\n")
		_, err := builder.BuildAll(context.Background())
		Expect(err).NotTo(HaveOccurred())
		ids := make([]string, len(store.added))
		for i, c := range store.added {
			ids[i] = c.ID
		}

		Expect(os.Remove(filepath.Join(vault, "log.md"))).To(Succeed())
		_, err = builder.BuildAll(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(store.deleted).To(Equal(ids))
	})

	It("rebuilds only the requested files", func() {
		write("a.md", "note a.\n")
		write("b.md", "note b.\n")
		n, err := builder.BuildFiles(context.Background(), []string{"a.md"})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(store.added).To(HaveLen(1))
		Expect(store.added[0].Metadata.Source).To(Equal("a.md"))
	})

	It("treats a missing requested file as a removal", func() {
		write("a.md", "note a.\n")
		_, err := builder.BuildFiles(context.Background(), []string{"a.md"})
		Expect(err).NotTo(HaveOccurred())
		ids := []string{store.added[0].ID}

		Expect(os.Remove(filepath.Join(vault, "a.md"))).To(Succeed())
		n, err := builder.BuildFiles(context.Background(), []string{"a.md"})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
		Expect(store.deleted).To(Equal(ids))
	})
})

var _ = Describe("JobStore", func() {
	It("rejects a second start while running", func() {
		jobs := index.NewJobStore()
		id, ok := jobs.TryStart("full", nil)
		Expect(ok).To(BeTrue())
		Expect(id).NotTo(BeEmpty())

		_, ok = jobs.TryStart("full", nil)
		Expect(ok).To(BeFalse())

		jobs.Finish(42, nil)
		Expect(jobs.Status().Running).To(BeFalse())
		Expect(jobs.Status().OK).To(BeTrue())
		Expect(jobs.Status().Chunks).To(Equal(42))

		_, ok = jobs.TryStart("files", []string{"a.md"})
		Expect(ok).To(BeTrue())
		jobs.Finish(0, errors.New("boom"))
		Expect(jobs.Status().Error).To(Equal("boom"))
	})
})
