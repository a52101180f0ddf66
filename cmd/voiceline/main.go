package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/voiceline-ai/voiceline/pkg/asr"
	"github.com/voiceline-ai/voiceline/pkg/config"
	"github.com/voiceline-ai/voiceline/pkg/intent"
	"github.com/voiceline-ai/voiceline/pkg/knowledge"
	"github.com/voiceline-ai/voiceline/pkg/metrics"
	"github.com/voiceline-ai/voiceline/pkg/server"
	"github.com/voiceline-ai/voiceline/pkg/store"
	"github.com/voiceline-ai/voiceline/pkg/trace"
	"github.com/voiceline-ai/voiceline/pkg/tts"
)

func main() {
	godotenv.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.Init()
	if err := trace.Initialize(ctx, trace.DefaultConfig()); err != nil {
		log.Printf("[Main] Tracing disabled: %v", err)
	}
	defer trace.Shutdown(context.Background())

	st, err := buildStore(ctx)
	if err != nil {
		log.Fatalf("[Main] Store: %v", err)
	}
	defer st.Close()

	retriever, err := buildRetriever()
	if err != nil {
		log.Fatalf("[Main] Knowledge retriever: %v", err)
	}

	cfg := server.DefaultConfig()
	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	cfg.AuthToken = os.Getenv("AUTH_TOKEN")
	if v := os.Getenv("MAX_SESSIONS_PER_IP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSessionsPerIP = n
		}
	}

	srv, err := server.NewServer(cfg, server.Deps{
		Store:          st,
		Retriever:      retriever,
		NewASRProvider: newASRProvider,
		NewTTSProvider: newTTSProvider,
		NewExtractor:   newExtractor,
	})
	if err != nil {
		log.Fatalf("[Main] Server: %v", err)
	}

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("[Main] Listen: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[Main] Received %v, shutting down", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("[Main] Shutdown: %v", err)
	}
}

// buildStore picks Postgres when DATABASE_URL is set, otherwise an in-memory
// store, and layers the Redis cache in front when REDIS_URL is set.
func buildStore(ctx context.Context) (store.Store, error) {
	var base store.Store
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		pg, err := store.NewPostgresStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		log.Printf("[Main] Using Postgres store")
		base = pg
	} else {
		log.Printf("[Main] DATABASE_URL not set, using in-memory store")
		base = store.NewMemoryStore()
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return base, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("[Main] Tenant config cache on Redis")
	return store.NewCachedStore(base, client, 5*time.Minute), nil
}

// buildRetriever wires Qdrant-backed retrieval when configured; without it
// the pipeline runs with no knowledge grounding.
func buildRetriever() (knowledge.Retriever, error) {
	qdrantURL := os.Getenv("QDRANT_URL")
	if qdrantURL == "" {
		return nil, nil
	}
	embedder, err := knowledge.NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY"), os.Getenv("EMBEDDING_MODEL"))
	if err != nil {
		return nil, err
	}
	collection := os.Getenv("QDRANT_COLLECTION")
	if collection == "" {
		collection = "knowledge"
	}
	return knowledge.NewQdrantRetriever(knowledge.QdrantConfig{
		URL:            qdrantURL,
		CollectionName: collection,
		APIKey:         os.Getenv("QDRANT_API_KEY"),
	}, embedder)
}

func newASRProvider(cfg config.ASRConfig) (asr.Provider, error) {
	switch cfg.Provider {
	case "", "elevenlabs":
		return asr.NewElevenLabsProvider(asr.ElevenLabsConfig{
			APIKey: os.Getenv("ELEVENLABS_API_KEY"),
		})
	default:
		return nil, fmt.Errorf("unknown ASR provider %q", cfg.Provider)
	}
}

func newTTSProvider(cfg config.TTSConfig) (tts.StreamingProvider, error) {
	switch cfg.Provider {
	case "", "elevenlabs":
		return tts.NewElevenLabsProvider(tts.ElevenLabsConfig{
			APIKey:          os.Getenv("ELEVENLABS_API_KEY"),
			VoiceID:         cfg.VoiceID,
			Model:           cfg.ModelID,
			Stability:       cfg.Stability,
			SimilarityBoost: cfg.SimilarityBoost,
			Speed:           cfg.Speed,
			StreamLatency:   cfg.StreamLatency,
		})
	default:
		return nil, fmt.Errorf("unknown TTS provider %q", cfg.Provider)
	}
}

func newExtractor(cfg config.LLMConfig) (intent.Extractor, error) {
	switch cfg.Provider {
	case "", "openai":
		return intent.NewOpenAIExtractor(intent.OpenAIConfig{
			APIKey:      os.Getenv("OPENAI_API_KEY"),
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
	case "gemini":
		return intent.NewGeminiExtractor(context.Background(), intent.GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
