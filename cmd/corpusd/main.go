// Package main implements the corpusd CLI: the ingestion and
// retrieval daemon plus client commands for operating against a
// running instance.
package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL client commands talk to.
	serverURL string
	// configPath is the YAML config file for the serve command.
	configPath string
	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "corpusd",
	Short: "Document ingestion and retrieval daemon",
	Long: `corpusd ingests documents into a vector store and serves
similarity search, hybrid search, and grounded question answering
over HTTP.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8420", "corpusd server URL")

	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(answerCmd)
	rootCmd.AddCommand(deleteCmd)
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a document from a file or stdin",
	Long: `Ingest a document into a running corpusd instance.

Examples:
  # Ingest a markdown file
  corpusd ingest notes.md

  # Ingest from stdin as plain text
  cat notes.txt | corpusd ingest -

  # Ingest a PDF with an explicit document ID
  corpusd ingest --id handbook-v2 handbook.pdf`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search ingested documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var answerCmd = &cobra.Command{
	Use:   "answer <question>",
	Short: "Ask a question grounded in ingested documents",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnswer,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document and its derived chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var (
	ingestID    string
	ingestTitle string
	ingestMime  string

	searchLimit  int
	searchHybrid bool
)

func init() {
	ingestCmd.Flags().StringVar(&ingestID, "id", "", "document ID (assigned when empty)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title")
	ingestCmd.Flags().StringVar(&ingestMime, "mime", "", "mime type (inferred from extension when empty)")

	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().BoolVar(&searchHybrid, "hybrid", false, "blend lexical relevance into ranking")
}

func runIngest(cmd *cobra.Command, args []string) error {
	var (
		content []byte
		name    string
		err     error
	)
	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
		name = "stdin"
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
		name = filepath.Base(args[0])
	}
	if len(content) == 0 {
		return fmt.Errorf("no content to ingest")
	}

	mime := ingestMime
	if mime == "" {
		mime = inferMimeType(name)
	}
	title := ingestTitle
	if title == "" {
		title = name
	}

	body := map[string]any{
		"document_id": ingestID,
		"title":       title,
		"mime_type":   mime,
	}
	if mime == "application/pdf" {
		body["content_base64"] = base64.StdEncoding.EncodeToString(content)
	} else {
		body["content"] = string(content)
	}

	var result struct {
		DocumentID string `json:"document_id"`
		ChunkCount int    `json:"chunk_count"`
	}
	if err := postJSON("/v1/documents", body, &result); err != nil {
		return err
	}

	fmt.Printf("ingested %s: document_id=%s chunks=%d\n", title, result.DocumentID, result.ChunkCount)
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	mode := "similarity"
	if searchHybrid {
		mode = "hybrid"
	}

	var results []struct {
		DocumentID string  `json:"document_id"`
		ChunkIndex int     `json:"chunk_index"`
		Text       string  `json:"text"`
		Score      float32 `json:"score"`
	}
	err := postJSON("/v1/search", map[string]any{
		"query": args[0],
		"limit": searchLimit,
		"mode":  mode,
	}, &results)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%.4f  %s#%d  %s\n", r.Score, r.DocumentID, r.ChunkIndex, truncate(r.Text, 120))
	}
	return nil
}

func runAnswer(cmd *cobra.Command, args []string) error {
	var result struct {
		Answer   string `json:"answer"`
		Grounded bool   `json:"grounded"`
		Sources  []struct {
			DocumentID string `json:"document_id"`
			ChunkIndex int    `json:"chunk_index"`
		} `json:"sources"`
	}
	if err := postJSON("/v1/answer", map[string]any{"query": args[0]}, &result); err != nil {
		return err
	}

	fmt.Println(result.Answer)
	if result.Grounded {
		fmt.Println("\nsources:")
		for _, s := range result.Sources {
			fmt.Printf("  %s#%d\n", s.DocumentID, s.ChunkIndex)
		}
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	req, err := http.NewRequest(http.MethodDelete, serverURL+"/v1/documents/"+args[0], nil)
	if err != nil {
		return err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return apiError(resp)
	}
	fmt.Printf("deleted %s\n", args[0])
	return nil
}

func postJSON(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := httpClient().Post(serverURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 60 * time.Second}
}

func inferMimeType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return "text/markdown"
	case ".pdf":
		return "application/pdf"
	default:
		return "text/plain"
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
