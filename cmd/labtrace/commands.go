package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/yungbote/labtrace-backend/internal/app"
	jobrt "github.com/yungbote/labtrace-backend/internal/jobs/runtime"
	"github.com/yungbote/labtrace-backend/internal/pkg/dbctx"
)

func serveCommand(c *cli.Context) error {
	return withApp(c, app.NeedAll, c.Bool("migrate"), func(ctx context.Context, a *app.App) error {
		reports, err := a.ReportPipeline()
		if err != nil {
			return err
		}
		vectors, err := a.VectorPipeline()
		if err != nil {
			return err
		}
		w, err := a.Worker(reports, vectors)
		if err != nil {
			return err
		}
		adm, err := a.Admission()
		if err != nil {
			return err
		}
		prg, err := a.Purge()
		if err != nil {
			return err
		}

		a.StartCollectors(ctx)
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return a.OpsServer().Run(ctx, a.Cfg.HTTPAddr) })
		g.Go(func() error { return w.Run(ctx) })
		g.Go(func() error { adm.Run(ctx); return nil })
		g.Go(func() error { prg.Run(ctx); return nil })
		a.Log.Info("labtrace serving", "addr", a.Cfg.HTTPAddr)
		return g.Wait()
	})
}

func admissionCommand(c *cli.Context) error {
	return withApp(c, app.NeedQueue, false, func(ctx context.Context, a *app.App) error {
		s, err := a.Admission()
		if err != nil {
			return err
		}
		if c.Bool("once") {
			ids, err := s.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "admitted %d reports\n", len(ids))
			return nil
		}
		s.Run(ctx)
		return nil
	})
}

func reportWorkerCommand(c *cli.Context) error {
	return withApp(c, app.NeedQueue|app.NeedLLM|app.NeedOCR, false, func(ctx context.Context, a *app.App) error {
		p, err := a.ReportPipeline()
		if err != nil {
			return err
		}
		return runWorker(ctx, a, p)
	})
}

func vectorWorkerCommand(c *cli.Context) error {
	return withApp(c, app.NeedQueue|app.NeedVectors, false, func(ctx context.Context, a *app.App) error {
		p, err := a.VectorPipeline()
		if err != nil {
			return err
		}
		return runWorker(ctx, a, p)
	})
}

func runWorker(ctx context.Context, a *app.App, handlers ...jobrt.Handler) error {
	w, err := a.Worker(handlers...)
	if err != nil {
		return err
	}
	a.StartCollectors(ctx)
	return w.Run(ctx)
}

func purgeCommand(c *cli.Context) error {
	return withApp(c, app.NeedVectors, false, func(ctx context.Context, a *app.App) error {
		s, err := a.Purge()
		if err != nil {
			return err
		}
		if c.Bool("once") {
			ids, err := s.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "purged %d reports\n", len(ids))
			return nil
		}
		s.Run(ctx)
		return nil
	})
}

func migrateCommand(c *cli.Context) error {
	return withApp(c, 0, true, func(ctx context.Context, a *app.App) error {
		a.Log.Info("migrations applied")
		return nil
	})
}

func submitCommand(c *cli.Context) error {
	owner, err := parseID(c, "owner")
	if err != nil {
		return err
	}
	return withApp(c, 0, false, func(ctx context.Context, a *app.App) error {
		r, err := a.Repos.Reports.Create(dbctx.Context{Ctx: ctx}, owner, c.String("url"), c.StringSlice("media"))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, r.ID)
		return nil
	})
}

func deleteCommand(c *cli.Context) error {
	owner, err := parseID(c, "owner")
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	return withApp(c, 0, false, func(ctx context.Context, a *app.App) error {
		return a.Repos.Reports.SoftDelete(dbctx.Context{Ctx: ctx}, owner, id)
	})
}

func searchCommand(c *cli.Context) error {
	owner, err := parseID(c, "owner")
	if err != nil {
		return err
	}
	return withApp(c, app.NeedVectors|app.NeedLLM, false, func(ctx context.Context, a *app.App) error {
		svc, err := a.Retrieval()
		if err != nil {
			return err
		}
		hits, err := svc.Search(ctx, owner, c.String("query"), c.Int("top-k"))
		if err != nil {
			return err
		}
		return printJSON(c, hits)
	})
}

func askCommand(c *cli.Context) error {
	owner, err := parseID(c, "owner")
	if err != nil {
		return err
	}
	return withApp(c, app.NeedVectors|app.NeedLLM, false, func(ctx context.Context, a *app.App) error {
		svc, err := a.Retrieval()
		if err != nil {
			return err
		}
		answer, hits, err := svc.Answer(ctx, owner, c.String("query"), c.Int("top-k"))
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, answer)
		if len(hits) > 0 {
			fmt.Fprintf(os.Stderr, "(%d supporting rows)\n", len(hits))
		}
		return nil
	})
}

func parseID(c *cli.Context, flag string) (uuid.UUID, error) {
	raw := strings.TrimSpace(c.String(flag))
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("--%s: invalid id %q", flag, raw)
	}
	return id, nil
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
