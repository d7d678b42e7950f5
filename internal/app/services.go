package app

import (
	"fmt"

	"github.com/yungbote/labtrace-backend/internal/extraction"
	"github.com/yungbote/labtrace-backend/internal/jobs/pipeline/report_extract"
	"github.com/yungbote/labtrace-backend/internal/jobs/pipeline/report_vectorize"
	jobrt "github.com/yungbote/labtrace-backend/internal/jobs/runtime"
	"github.com/yungbote/labtrace-backend/internal/jobs/schedule/admission"
	"github.com/yungbote/labtrace-backend/internal/jobs/schedule/purge"
	"github.com/yungbote/labtrace-backend/internal/jobs/worker"
	"github.com/yungbote/labtrace-backend/internal/retrieval"
)

func (a *App) require(flag Needs, what string) error {
	if !a.needs.Has(flag) {
		return fmt.Errorf("%s: app was wired without the required clients", what)
	}
	return nil
}

func (a *App) ReportPipeline() (*report_extract.Pipeline, error) {
	if err := a.require(NeedQueue|NeedLLM|NeedOCR, "report pipeline"); err != nil {
		return nil, err
	}
	engine, err := extraction.NewEngine(a.Log, a.Clients.OpenAI)
	if err != nil {
		return nil, fmt.Errorf("init extraction engine: %w", err)
	}
	return report_extract.New(a.DB, a.Log, report_extract.Deps{
		Reports:   a.Repos.Reports,
		Facets:    a.Repos.Facets,
		OCR:       a.Clients.OCR,
		Extractor: engine,
		Queue:     a.Clients.Queue,
	}, report_extract.ConfigFromEnv())
}

func (a *App) VectorPipeline() (*report_vectorize.Pipeline, error) {
	if err := a.require(NeedVectors, "vector pipeline"); err != nil {
		return nil, err
	}
	return report_vectorize.New(a.Log, a.Clients.OpenAI, a.Clients.Vectors, report_vectorize.ConfigFromEnv())
}

// Worker consumes the queues of the given handlers.
func (a *App) Worker(handlers ...jobrt.Handler) (*worker.Worker, error) {
	if err := a.require(NeedQueue, "worker"); err != nil {
		return nil, err
	}
	reg := jobrt.NewRegistry()
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return nil, err
		}
	}
	cfg := worker.ConfigFromEnv()
	if vis := a.Clients.Queue.VisibilityTimeout(); vis <= cfg.Budget() {
		return nil, fmt.Errorf("REDIS_QUEUE_VISIBILITY_TIMEOUT=%s must exceed WORKER_TASK_TIMEOUT+WORKER_DRAIN_TIMEOUT=%s", vis, cfg.Budget())
	}
	return worker.NewWorker(a.Log, a.Clients.Queue, reg, cfg)
}

func (a *App) Admission() (*admission.Scheduler, error) {
	if err := a.require(NeedQueue, "admission scheduler"); err != nil {
		return nil, err
	}
	return admission.New(a.Log, a.Repos.Reports, a.Clients.Queue, admission.ConfigFromEnv())
}

func (a *App) Purge() (*purge.Scheduler, error) {
	if err := a.require(NeedVectors, "purge scheduler"); err != nil {
		return nil, err
	}
	return purge.New(a.Log, a.Repos.Reports, a.Clients.Vectors, purge.ConfigFromEnv())
}

func (a *App) Retrieval() (*retrieval.Service, error) {
	if err := a.require(NeedVectors|NeedLLM, "retrieval"); err != nil {
		return nil, err
	}
	return retrieval.NewService(a.Log, retrieval.Deps{
		Index:      a.Clients.Vectors,
		Embedder:   a.Clients.OpenAI,
		Facets:     a.Repos.Facets,
		LLM:        a.Clients.OpenAI,
		Collection: a.Clients.Qdrant.Config().Collection,
	})
}
