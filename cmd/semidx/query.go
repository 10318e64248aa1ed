package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/semidx/internal/server"
	"github.com/standardbeagle/semidx/internal/types"
)

// clientFor loads the configuration and connects to the workspace leader
func clientFor(c *cli.Context) (*server.Client, error) {
	cfg, err := loadConfigWithOverrides(c)
	if err != nil {
		return nil, err
	}
	return connectClient(c, cfg)
}

func outputJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// float32Flag returns the flag's value when the user set it
func float32Flag(c *cli.Context, name string) *float32 {
	if !c.IsSet(name) {
		return nil
	}
	v := float32(c.Float64(name))
	return &v
}

func requireArg(c *cli.Context, what string) (string, error) {
	if c.NArg() == 0 {
		return "", fmt.Errorf("%s required (usage: semidx %s %s)", what, c.Command.Name, c.Command.ArgsUsage)
	}
	return strings.Join(c.Args().Slice(), " "), nil
}

func chunkLocation(ref types.ChunkRef) string {
	loc := fmt.Sprintf("%s:%d-%d", ref.FilePath, ref.StartLine, ref.EndLine)
	if ref.Name != "" {
		loc += " " + ref.Name
	}
	return loc
}

// statusCommand shows index build progress
func statusCommand(c *cli.Context) error {
	client, err := clientFor(c)
	if err != nil {
		return err
	}
	defer client.Close()

	status, err := client.Status(c.Context)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return outputJSON(c.App.Writer, status)
	}
	return outputStatusHuman(c.App.Writer, status)
}

func outputStatusHuman(w io.Writer, status types.IndexStatusInfo) error {
	fmt.Fprintf(w, "Index Status: %s\n", status.RootPath)
	fmt.Fprintf(w, "==============\n\n")

	if status.IsReady {
		fmt.Fprintf(w, "Status: Ready\n")
	} else {
		fmt.Fprintf(w, "Status: Indexing (%d/%d files parsed)\n", status.FilesParsed, status.FilesTotal)
	}

	fmt.Fprintf(w, "\nIndex Statistics:\n")
	fmt.Fprintf(w, "  Files discovered: %d\n", status.FilesTotal)
	fmt.Fprintf(w, "  Files parsed:     %d\n", status.FilesParsed)
	fmt.Fprintf(w, "  Files embedded:   %d\n", status.FilesEmbedded)
	fmt.Fprintf(w, "  Chunks:           %d\n", status.ChunkCount)
	if status.ModelLoaded {
		fmt.Fprintf(w, "  Model:            %s\n", status.ModelName)
	} else {
		fmt.Fprintf(w, "  Model:            not loaded\n")
	}

	if len(status.Languages) > 0 {
		names := make([]string, 0, len(status.Languages))
		for name := range status.Languages {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintf(w, "\nLanguages:\n")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, name := range names {
			ls := status.Languages[name]
			fmt.Fprintf(tw, "  %s\t%d files\t%d chunks\t%d bytes\n", name, ls.Files, ls.Chunks, ls.TotalBytes)
		}
		return tw.Flush()
	}
	return nil
}

// filesCommand lists indexed files
func filesCommand(c *cli.Context) error {
	client, err := clientFor(c)
	if err != nil {
		return err
	}
	defer client.Close()

	files, err := client.ListFiles(c.Context)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return outputJSON(c.App.Writer, server.ListFilesResponse{Files: files})
	}
	for _, f := range files {
		fmt.Fprintln(c.App.Writer, f)
	}
	return nil
}

// dupsCommand prints cross-file duplicate clusters
func dupsCommand(c *cli.Context) error {
	req := server.FindAllDuplicatesRequest{MinSimilarity: float32Flag(c, "min-similarity")}
	if c.IsSet("min-chunk-bytes") {
		n := c.Int("min-chunk-bytes")
		req.MinChunkBytes = &n
	}

	client, err := clientFor(c)
	if err != nil {
		return err
	}
	defer client.Close()

	clusters, err := client.FindAllDuplicates(c.Context, req)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return outputJSON(c.App.Writer, server.FindAllDuplicatesResponse{Clusters: clusters})
	}

	w := c.App.Writer
	if len(clusters) == 0 {
		fmt.Fprintln(w, "No duplicates found")
		return nil
	}
	for i, cluster := range clusters {
		fmt.Fprintf(w, "Cluster %d: %d chunks, average similarity %.3f\n", i+1, len(cluster.Chunks), cluster.AverageSimilarity)
		for _, ref := range cluster.Chunks {
			fmt.Fprintf(w, "  %s\n", chunkLocation(ref))
		}
	}
	return nil
}

func outputSimilarHuman(w io.Writer, results []types.SimilarChunkResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "No matches")
		return
	}
	for _, r := range results {
		if r.Source != nil {
			fmt.Fprintf(w, "%.3f  %s  (like %s)\n", r.Similarity, chunkLocation(r.Chunk), chunkLocation(*r.Source))
			continue
		}
		fmt.Fprintf(w, "%.3f  %s\n", r.Similarity, chunkLocation(r.Chunk))
	}
}

// dupsFileCommand ranks code elsewhere against one file
func dupsFileCommand(c *cli.Context) error {
	file, err := requireArg(c, "file")
	if err != nil {
		return err
	}

	client, err := clientFor(c)
	if err != nil {
		return err
	}
	defer client.Close()

	results, err := client.FindDuplicatesInFile(c.Context, server.FindDuplicatesInFileRequest{
		File:          file,
		MinSimilarity: float32Flag(c, "min-similarity"),
		TopK:          c.Int("top-k"),
	})
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return outputJSON(c.App.Writer, server.SimilarResponse{Results: results})
	}
	outputSimilarHuman(c.App.Writer, results)
	return nil
}

// searchCommand runs a semantic search
func searchCommand(c *cli.Context) error {
	text, err := requireArg(c, "search text")
	if err != nil {
		return err
	}

	client, err := clientFor(c)
	if err != nil {
		return err
	}
	defer client.Close()

	results, err := client.SemanticSearch(c.Context, server.SemanticSearchRequest{
		Text:          text,
		TopK:          c.Int("top-k"),
		MinSimilarity: float32Flag(c, "min-similarity"),
	})
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return outputJSON(c.App.Writer, server.SimilarResponse{Results: results})
	}
	outputSimilarHuman(c.App.Writer, results)
	return nil
}

// queryCommand runs a tree-sitter query
func queryCommand(c *cli.Context) error {
	query, err := requireArg(c, "query")
	if err != nil {
		return err
	}

	client, err := clientFor(c)
	if err != nil {
		return err
	}
	defer client.Close()

	matches, err := client.TreeSitterQuery(c.Context, server.TreeSitterQueryRequest{
		Query:    query,
		Files:    c.StringSlice("file"),
		Language: c.String("language"),
	})
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return outputJSON(c.App.Writer, server.TreeSitterQueryResponse{Matches: matches})
	}

	w := c.App.Writer
	if len(matches) == 0 {
		fmt.Fprintln(w, "No matches")
		return nil
	}
	for _, m := range matches {
		for _, capture := range m.Captures {
			text := capture.Text
			if i := strings.IndexByte(text, '\n'); i >= 0 {
				text = text[:i] + " ..."
			}
			fmt.Fprintf(w, "%s:%d:%d @%s %s\n", m.FilePath, capture.StartLine, capture.StartColumn+1, capture.Name, text)
		}
	}
	return nil
}

// invalidateCommand re-indexes one file
func invalidateCommand(c *cli.Context) error {
	file, err := requireArg(c, "file")
	if err != nil {
		return err
	}

	client, err := clientFor(c)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.InvalidateFile(c.Context, server.InvalidateFileRequest{File: file})
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return outputJSON(c.App.Writer, resp)
	}
	fmt.Fprintf(c.App.Writer, "%s: %s\n", resp.File, resp.Result)
	return nil
}

// pingCommand checks the server is alive
func pingCommand(c *cli.Context) error {
	client, err := clientFor(c)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Ping(c.Context)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return outputJSON(c.App.Writer, resp)
	}
	fmt.Fprintf(c.App.Writer, "semidx %s (%s) pid %d, up %.0fs, root %s\n",
		resp.Version, resp.BuildID, resp.PID, resp.Uptime, resp.RootPath)
	return nil
}
