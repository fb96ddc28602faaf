package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/quietvale/notevault/pkg/index"
	"github.com/quietvale/notevault/pkg/llm"
	"github.com/quietvale/notevault/pkg/vector"
)

const (
	generateTimeout = 120 * time.Second
	streamTimeout   = 600 * time.Second
)

// ErrorResponse is the JSON error body returned by every handler.
type ErrorResponse struct {
	Error string `json:"error"`
}

// QueryRequest is the body for /query and /query/stream.
type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

// QueryResponse pairs the generated answer with the source paths of the
// chunks that informed it, in rank order.
type QueryResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

func (s *Server) handleQuery(c *fiber.Ctx) error {
	var req QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Question) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "question is required"})
	}
	k := req.TopK
	if k <= 0 {
		k = s.config.TopK
	}

	chunks, err := s.engine.Retrieve(c.Context(), req.Question, k)
	if err != nil {
		s.logger.Error("retrieval failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "retrieval failed"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), generateTimeout)
	defer cancel()

	answer, err := s.generator.Generate(ctx, s.finalPrompt(req.Question, chunks), s.genOptions())
	if err != nil {
		s.logger.Error("generation failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: "generation failed"})
	}

	sources := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		src := ch.Metadata.Source
		if src == "" {
			src = "unknown.md"
		}
		sources = append(sources, src)
	}

	return c.JSON(QueryResponse{Answer: answer, Sources: sources})
}

func (s *Server) handleQueryStream(c *fiber.Ctx) error {
	var req QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Question) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "question is required"})
	}
	k := req.TopK
	if k <= 0 {
		k = s.config.TopK
	}

	chunks, err := s.engine.Retrieve(c.Context(), req.Question, k)
	if err != nil {
		s.logger.Error("retrieval failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "retrieval failed"})
	}
	prompt := s.finalPrompt(req.Question, chunks)

	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")

	// io.Pipe instead of SetBodyStreamWriter: pw.Write blocks until
	// fasthttp's chunked writer consumes the data, so every model
	// fragment reaches the client immediately with real backpressure.
	pr, pw := io.Pipe()
	go s.streamToPipe(prompt, pw)

	c.Context().Response.SetBodyStream(pr, -1)
	return nil
}

func (s *Server) streamToPipe(prompt string, pw *io.PipeWriter) {
	defer pw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
	defer cancel()

	err := s.generator.Stream(ctx, prompt, s.genOptions(), func(fragment string) error {
		_, werr := io.WriteString(pw, fragment)
		return werr
	})
	switch {
	case err == nil:
	case ctx.Err() == context.DeadlineExceeded:
		io.WriteString(pw, "\n\n[Warning] generation timed out; partial output shown.\n")
	default:
		fmt.Fprintf(pw, "\n\n[Error] streaming failed: %v\n", err)
	}

	// Trailing newline for a clean terminal cursor.
	io.WriteString(pw, "\n")
}

func (s *Server) genOptions() llm.Options {
	opts := s.config.GenOptions
	if opts.KeepAlive == "" {
		opts.KeepAlive = "10m"
	}
	return opts
}

// ReindexFilesRequest is the body for /reindex/files.
type ReindexFilesRequest struct {
	Files []string `json:"files"`
}

func (s *Server) handleReindex(c *fiber.Ctx) error {
	if _, ok := s.jobs.TryStart("full", nil); !ok {
		return c.JSON(fiber.Map{"status": "running", "last": s.jobs.Status()})
	}
	go s.runBuild(func(ctx context.Context) (int, error) {
		return s.builder.BuildAll(ctx)
	})
	return c.JSON(fiber.Map{"status": "started"})
}

func (s *Server) handleReindexFiles(c *fiber.Ctx) error {
	var req ReindexFilesRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if len(req.Files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "files is required"})
	}
	if _, ok := s.jobs.TryStart("files", req.Files); !ok {
		return c.JSON(fiber.Map{"status": "running", "last": s.jobs.Status()})
	}
	go s.runBuild(func(ctx context.Context) (int, error) {
		return s.builder.BuildFiles(ctx, req.Files)
	})
	return c.JSON(fiber.Map{"status": "started", "files": req.Files})
}

// runBuild executes one index build on a background context so the job
// survives the HTTP request that triggered it.
func (s *Server) runBuild(build func(context.Context) (int, error)) {
	chunks, err := build(context.Background())
	if err != nil {
		s.logger.Error("index build failed", zap.Error(err))
	}
	s.jobs.Finish(chunks, err)
}

func (s *Server) handleReindexStatus(c *fiber.Ctx) error {
	st := s.jobs.Status()
	return c.JSON(fiber.Map{"running": st.Running, "last": st})
}

// versioner is implemented by generator backends that can report the
// upstream server version, used as the first health stage.
type versioner interface {
	Version(ctx context.Context) (string, error)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()

	version := "unknown"
	if v, ok := s.generator.(versioner); ok {
		ver, err := v.Version(ctx)
		if err != nil {
			return c.JSON(fiber.Map{"ok": false, "stage": "ollama/version", "error": err.Error()})
		}
		version = ver
	}

	if _, err := s.embedder.Embed(ctx, "ping"); err != nil {
		return c.JSON(fiber.Map{"ok": false, "stage": "embeddings", "error": err.Error()})
	}

	genCtx, genCancel := context.WithTimeout(c.Context(), generateTimeout)
	defer genCancel()
	out, err := s.generator.Generate(genCtx, "Say 'pong' and nothing else.", s.genOptions())
	if err != nil {
		return c.JSON(fiber.Map{"ok": false, "stage": "generate", "error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"ok":             true,
		"ollama_version": version,
		"now":            s.now(),
		"sample":         snippet(out, 80, ""),
	})
}

func (s *Server) handleParseDates(c *fiber.Ctx) error {
	q := c.Query("q")
	if q == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "q parameter required"})
	}
	rng, err := s.resolver.Resolve(c.Context(), q, s.config.Timezone)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(fiber.Map{"start": rng.Start, "end": rng.End})
}

type retrieveHit struct {
	Rank      int      `json:"rank"`
	Source    string   `json:"source"`
	Title     string   `json:"title"`
	EntryDate string   `json:"entry_date"`
	Entities  []string `json:"entities,omitempty"`
	Snippet   string   `json:"snippet"`
}

func (s *Server) handleDebugRetrieve(c *fiber.Ctx) error {
	q := c.Query("q")
	if q == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "q parameter required"})
	}
	k := queryInt(c, "k", 5)

	chunks, err := s.store.Search(c.Context(), q, k, nil)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(retrieveHits(chunks, 300))
}

func (s *Server) handleDebugRetrieveDated(c *fiber.Ctx) error {
	q := c.Query("q")
	if q == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "q parameter required"})
	}
	k := queryInt(c, "k", 5)

	chunks, err := s.engine.Retrieve(c.Context(), q, k)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(retrieveHits(chunks, 200))
}

func retrieveHits(chunks []vector.Chunk, max int) []retrieveHit {
	hits := make([]retrieveHit, 0, len(chunks))
	for i, ch := range chunks {
		hits = append(hits, retrieveHit{
			Rank:      i + 1,
			Source:    ch.Metadata.Source,
			Title:     ch.Metadata.Title,
			EntryDate: ch.Metadata.EntryDate,
			Entities:  ch.Metadata.Entities,
			Snippet:   snippet(ch.Content, max, ""),
		})
	}
	return hits
}

type splitSection struct {
	EntryDate string `json:"entry_date,omitempty"`
	Snippet   string `json:"snippet"`
}

// handleSplitByDate previews how a markdown body splits into dated
// sections. Accepts either a "text" form field or an uploaded "file".
func (s *Server) handleSplitByDate(c *fiber.Ctx) error {
	text := c.FormValue("text")
	if text == "" {
		if fh, err := c.FormFile("file"); err == nil {
			body, rerr := readUpload(fh)
			if rerr != nil {
				return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "could not read upload"})
			}
			text = body
		}
	}
	if text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "no text provided"})
	}

	sections := index.SplitByDateHeadings(text)
	out := make([]splitSection, 0, len(sections))
	for _, sec := range sections {
		out = append(out, splitSection{
			EntryDate: sec.Date,
			Snippet:   snippet(strings.TrimSpace(sec.Text), 200, "..."),
		})
	}
	return c.JSON(fiber.Map{"total_sections": len(sections), "sections": out})
}

func readUpload(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()
	body, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func queryInt(c *fiber.Ctx, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// snippet truncates s to at most max runes, appending suffix only when
// something was cut.
func snippet(s string, max int, suffix string) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + suffix
}
