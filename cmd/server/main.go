package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"memgate/internal/api"
	"memgate/internal/config"
	"memgate/internal/db"
	"memgate/internal/engine"
	"memgate/internal/llm"
	"memgate/internal/memory"
	redisdb "memgate/internal/redis"
)

func main() {
	cfg, err := config.LoadConfig("config.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if err := db.Init(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "DB init error: %v\n", err)
		os.Exit(1)
	}
	rdb := redisdb.NewClient(cfg)

	// Vector index: Qdrant when configured, in-process otherwise
	var index memory.VectorIndex
	if cfg.Qdrant.Enabled {
		qi, err := memory.NewQdrantIndex(cfg.Qdrant.URL, cfg.Qdrant.Collection, cfg.Qdrant.APIKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Qdrant init error: %v\n", err)
			os.Exit(1)
		}
		index = qi
		log.Printf("[Main] Qdrant vector index ready (collection: %s)", cfg.Qdrant.Collection)
	} else {
		index = memory.NewMemoryVectorIndex()
		log.Printf("[Main] Using in-process vector index")
	}

	// Embedder: remote endpoint when configured, deterministic local otherwise
	var embedder memory.Embedder
	if cfg.Embedding.URL != "" {
		embedder = memory.NewHTTPEmbedder(cfg.Embedding.URL, cfg.Embedding.Model, cfg.Embedding.Workers)
	} else {
		embedder = memory.NewLocalEmbedder(cfg.Embedding.Workers)
		log.Printf("[Main] WARNING: no embeddings endpoint configured, using local hash embedder")
	}

	var completer llm.Completer
	if cfg.Completion.URL != "" {
		completer = llm.NewClient(cfg.Completion.URL, cfg.Completion.Model,
			time.Duration(cfg.Completion.TimeoutSeconds)*time.Second)
	} else {
		log.Printf("[Main] WARNING: no completion endpoint configured, gate runs lexical-only")
	}

	store := memory.NewStore(db.DB, index)
	notes := memory.NewNoteStore(db.DB)
	graph := memory.NewGraph(db.DB)

	hub := api.NewAuditHub()
	audit := engine.NewAuditSink(db.DB, 256, hub.Broadcast)
	defer audit.Close()

	retrieverCfg := engine.DefaultRetrieverConfig()
	if cfg.Interceptor.SearchK > 0 {
		retrieverCfg.SearchK = cfg.Interceptor.SearchK
	}
	if cfg.Interceptor.MaxMemories > 0 {
		retrieverCfg.MaxMemories = cfg.Interceptor.MaxMemories
	}
	if cfg.Interceptor.MaxNotes > 0 {
		retrieverCfg.MaxNotes = cfg.Interceptor.MaxNotes
	}

	gate := engine.NewGate(completer)
	retriever := engine.NewRetriever(embedder, store, notes, graph, retrieverCfg)
	compressor := engine.NewCompressor(completer, store)
	interceptor := engine.NewInterceptor(gate, retriever, compressor, audit, rdb)

	r := api.SetupRouter(&api.Deps{
		Config:      cfg,
		DB:          db.DB,
		Redis:       rdb,
		Interceptor: interceptor,
		Store:       store,
		Notes:       notes,
		Graph:       graph,
		AuditHub:    hub,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("Starting server on %s%s\n", addr, cfg.Server.Subpath)
	if err := r.Run(addr); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
