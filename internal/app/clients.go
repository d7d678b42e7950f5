package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/labtrace-backend/internal/ocr"
	"github.com/yungbote/labtrace-backend/internal/pkg/logger"
	"github.com/yungbote/labtrace-backend/internal/platform/envutil"
	"github.com/yungbote/labtrace-backend/internal/platform/gcp"
	"github.com/yungbote/labtrace-backend/internal/platform/media"
	"github.com/yungbote/labtrace-backend/internal/platform/openai"
	"github.com/yungbote/labtrace-backend/internal/platform/qdrant"
	"github.com/yungbote/labtrace-backend/internal/platform/redisq"
)

// Needs selects which external clients a command brings up. The database
// is always connected.
type Needs uint8

const (
	NeedQueue Needs = 1 << iota
	NeedVectors
	NeedLLM
	NeedOCR

	NeedAll = NeedQueue | NeedVectors | NeedLLM | NeedOCR
)

func (n Needs) Has(flag Needs) bool { return n&flag == flag }

type Clients struct {
	Redis   *goredis.Client
	Queue   *redisq.Queue
	Qdrant  *qdrant.Store
	Vectors VectorStore
	OpenAI  openai.Client

	Vision    gcp.Vision
	Documents gcp.DocumentReader
	Objects   gcp.ObjectReader
	OCR       *ocr.Adapter
}

func wireClients(ctx context.Context, log *logger.Logger, needs Needs) (c Clients, err error) {
	log.Info("Wiring clients...", "needs", fmt.Sprintf("%04b", needs))
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	// Redis
	if needs.Has(NeedQueue) {
		cfg, err := redisq.ResolveConfigFromEnv()
		if err != nil {
			return c, fmt.Errorf("redis config: %w", err)
		}
		rdb, err := redisq.NewClient(ctx, cfg)
		if err != nil {
			return c, fmt.Errorf("init redis: %w", err)
		}
		c.Redis = rdb
		q, err := redisq.New(log, rdb, cfg)
		if err != nil {
			return c, fmt.Errorf("init queue: %w", err)
		}
		c.Queue = q
	}

	// Qdrant
	if needs.Has(NeedVectors) {
		store, err := resolveVectorStore(ctx, log)
		if err != nil {
			return c, err
		}
		c.Qdrant = store
		c.Vectors = instrumentVectorStore(store)
	}

	// Openai (embeddings are needed alongside vectors)
	if needs.Has(NeedLLM) || needs.Has(NeedVectors) {
		client, err := openai.NewClient(log, openai.ConfigFromEnv())
		if err != nil {
			return c, fmt.Errorf("init openai client: %w", err)
		}
		c.OpenAI = client
	}

	// Gcp + media
	if needs.Has(NeedOCR) {
		vision, err := gcp.NewVision(log)
		if err != nil {
			return c, fmt.Errorf("init vision client: %w", err)
		}
		c.Vision = vision

		if pc := gcp.ProcessorConfigFromEnv(); pc.Enabled() {
			docs, err := gcp.NewDocumentReader(log, pc)
			if err != nil {
				return c, fmt.Errorf("init document ai client: %w", err)
			}
			c.Documents = docs
		} else {
			log.Warn("Document AI processor not configured; scanned PDFs will fail")
		}

		objects, err := resolveObjectReader(log)
		if err != nil {
			return c, err
		}
		c.Objects = objects

		s3Client, err := media.NewS3ClientFromEnv(ctx)
		if err != nil {
			return c, fmt.Errorf("init s3 client: %w", err)
		}
		fetcher := media.NewFetcher(log, media.Options{
			GCS:        objects,
			S3:         s3Client,
			AllowFiles: envutil.Bool("MEDIA_ALLOW_FILES", false),
		})
		adapter, err := ocr.NewAdapter(log, ocr.Options{
			Fetcher:    fetcher,
			Vision:     vision,
			Documents:  c.Documents,
			Preprocess: envutil.Bool("OCR_PREPROCESS", true),
		})
		if err != nil {
			return c, fmt.Errorf("init ocr adapter: %w", err)
		}
		c.OCR = adapter
	}
	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Objects != nil {
		_ = c.Objects.Close()
	}
	if c.Documents != nil {
		_ = c.Documents.Close()
	}
	if c.Vision != nil {
		_ = c.Vision.Close()
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
}
