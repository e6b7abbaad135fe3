package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/mthorsen/paper-rag/api"
	"github.com/mthorsen/paper-rag/cache"
	"github.com/mthorsen/paper-rag/config"
	"github.com/mthorsen/paper-rag/database"
	"github.com/mthorsen/paper-rag/embeddings"
	"github.com/mthorsen/paper-rag/knowledge"
	"github.com/mthorsen/paper-rag/llm"
	"github.com/mthorsen/paper-rag/rag"
	"github.com/mthorsen/paper-rag/store"
)

func main() {
	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()

	switch os.Args[1] {
	case "ask":
		askCmd(cfg, logger, os.Args[2:])
	case "batch":
		batchCmd(cfg, logger, os.Args[2:])
	case "serve":
		serveCmd(cfg, logger, os.Args[2:])
	case "graph":
		graphCmd(cfg, logger, os.Args[2:])
	default:
		logger.Sugar().Errorf("unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: paper-rag <command> [flags]

Commands:
  ask     answer a single research question
  batch   answer questions read from a file, one per line
  serve   run the HTTP API
  graph   answer a question and export its knowledge graph to Neo4j`)
}

func buildAssistant(ctx context.Context, cfg config.Config, logger *zap.Logger, retrieverKind string) (*cache.Assistant, *pgxpool.Pool, error) {
	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres connection: %w", err)
	}

	if err := database.EnsurePaperSchema(ctx, pool, cfg.Embeddings.Dimension); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}

	index := store.NewPaperIndex(pool)
	if err := index.Verify(ctx); err != nil {
		logger.Warn("paper index verification failed", zap.Error(err))
	}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("embedder setup: %w", err)
	}

	model, err := llm.NewClient(cfg)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("llm setup: %w", err)
	}

	retriever, err := rag.NewRetriever(retrieverKind, embedder, index, nil, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("retriever setup: %w", err)
	}

	formatter := rag.NewAcademicFormatter(cfg.RAG.MaxContextChars, cfg.RAG.ExcerptChars, logger)
	engine := rag.NewEngine(retriever, formatter, model, llm.ParamsFromConfig(cfg.Generation), cfg.RAG.TopK, logger)

	return cache.NewAssistant(engine, cfg.RAG.CacheCapacity, logger), pool, nil
}

func askCmd(cfg config.Config, logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("ask", flag.ExitOnError)
	question := flags.String("question", "", "research question to answer")
	retrieverKind := flags.String("retriever", rag.RetrieverVector, "retrieval strategy (vector or hybrid)")
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse ask flags", zap.Error(err))
	}

	if strings.TrimSpace(*question) == "" {
		fmt.Print("Research question: ")
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			*question = scanner.Text()
		}
		if err := scanner.Err(); err != nil {
			logger.Fatal("read question", zap.Error(err))
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	assistant, pool, err := buildAssistant(ctx, cfg, logger, *retrieverKind)
	if err != nil {
		logger.Fatal("assistant setup", zap.Error(err))
	}
	defer pool.Close()

	response := assistant.AnswerQuestion(ctx, *question)
	printResponse(response)
}

func batchCmd(cfg config.Config, logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("batch", flag.ExitOnError)
	file := flags.String("file", "", "path to a file with one question per line")
	retrieverKind := flags.String("retriever", rag.RetrieverVector, "retrieval strategy (vector or hybrid)")
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse batch flags", zap.Error(err))
	}

	if *file == "" {
		logger.Fatal("batch requires -file")
	}

	questions, err := readQuestions(*file)
	if err != nil {
		logger.Fatal("read questions", zap.Error(err))
	}
	if len(questions) == 0 {
		logger.Fatal("no questions found", zap.String("file", *file))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	assistant, pool, err := buildAssistant(ctx, cfg, logger, *retrieverKind)
	if err != nil {
		logger.Fatal("assistant setup", zap.Error(err))
	}
	defer pool.Close()

	responses := assistant.BatchProcess(ctx, questions)
	for _, response := range responses {
		printResponse(response)
	}
	printStats(assistant.Stats())
}

func serveCmd(cfg config.Config, logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.ListenAddr, "listen address")
	retrieverKind := flags.String("retriever", rag.RetrieverVector, "retrieval strategy (vector or hybrid)")
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse serve flags", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	assistant, pool, err := buildAssistant(ctx, cfg, logger, *retrieverKind)
	if err != nil {
		logger.Fatal("assistant setup", zap.Error(err))
	}
	defer pool.Close()

	server := &http.Server{
		Addr:    *addr,
		Handler: api.New(assistant, logger).Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("serving HTTP API", zap.String("addr", *addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("serve", zap.Error(err))
	}
}

func graphCmd(cfg config.Config, logger *zap.Logger, args []string) {
	flags := flag.NewFlagSet("graph", flag.ExitOnError)
	question := flags.String("question", "", "research question to answer before exporting the graph")
	if err := flags.Parse(args); err != nil {
		logger.Fatal("parse graph flags", zap.Error(err))
	}

	if strings.TrimSpace(*question) == "" {
		logger.Fatal("graph requires -question")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	assistant, pool, err := buildAssistant(ctx, cfg, logger, rag.RetrieverVector)
	if err != nil {
		logger.Fatal("assistant setup", zap.Error(err))
	}
	defer pool.Close()

	driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	if err != nil {
		logger.Fatal("neo4j connection", zap.Error(err))
	}
	defer driver.Close(ctx)

	response := assistant.AnswerQuestion(ctx, *question)
	printResponse(response)

	graph := cache.BuildKnowledgeGraph(response.Sources)
	if err := knowledge.SyncGraph(ctx, driver, graph); err != nil {
		logger.Fatal("graph export", zap.Error(err))
	}

	color.Green("Exported %d nodes and %d edges to Neo4j", len(graph.Nodes), len(graph.Edges))

	for _, node := range graph.Nodes {
		if node.Kind != "paper" {
			continue
		}
		terms, err := knowledge.TermsForPaper(ctx, driver, node.ID)
		if err != nil {
			logger.Warn("read terms for paper", zap.String("paper", node.ID), zap.Error(err))
			continue
		}
		fmt.Printf("  %s: %s\n", node.Title, strings.Join(terms, ", "))
	}
}

func readQuestions(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open questions file: %w", err)
	}
	defer file.Close()

	var questions []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			questions = append(questions, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read questions file: %w", err)
	}

	return questions, nil
}

func printResponse(response rag.Response) {
	color.Cyan("\nQuestion: %s", response.Question)
	if response.Failed() {
		color.Red("Error: %s", response.Error)
	}
	fmt.Println(response.Answer)

	if len(response.Sources) > 0 {
		color.Yellow("\nSources:")
		for i, source := range response.Sources {
			fmt.Printf("  [%d] %s (%d, %s) score=%.4f\n", i+1, source.Title(), source.Year, source.Category, source.Score)
			if source.Timestamp > 0 {
				fmt.Printf("      processed %s\n", source.FormattedDate())
			}
		}
	}

	fmt.Printf("\nSearch %.2fs | Model %.2fs | Total %.2fs\n",
		response.SearchMetrics.TotalTime.Seconds(),
		response.ModelMetrics.TotalTime.Seconds(),
		response.TotalTime().Seconds(),
	)
}

func printStats(stats cache.Stats) {
	color.Yellow("\nCache: %.1f%% hit rate (%d hits, %d misses, %d queries), %d responses, %d contexts",
		stats.HitRate*100, stats.Hits, stats.Misses, stats.TotalQueries,
		stats.ResponseCacheSize, stats.ContextCacheSize,
	)
}
