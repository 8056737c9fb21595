package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"policyvoice/app/client/heuristic"
	"policyvoice/app/client/llm"
	"policyvoice/app/client/natsbus"
	"policyvoice/app/client/postgres"
	"policyvoice/app/client/sqlite"
	"policyvoice/app/config"
	"policyvoice/app/service/customer"
	"policyvoice/app/service/flow"
	"policyvoice/app/service/guardrails"
	"policyvoice/app/service/mcptool"
	"policyvoice/app/service/persistence"
	"policyvoice/app/service/queue"
	"policyvoice/app/service/response"
	"policyvoice/app/service/seed"
	"policyvoice/app/service/webhook"
	"policyvoice/app/util/mylog"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

// store is what every storage backend provides.
type store interface {
	customer.Store
	persistence.HistoryWriter
	persistence.TelemetrySink
	seed.Writer
}

func main() {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	provideStore(di, cfg)
	provideCapabilities(di, cfg)

	do.Provide(di, guardrails.New)
	do.Provide(di, customer.New)
	do.Provide(di, response.New)
	do.Provide(di, persistence.New)
	do.Provide(di, queue.New)
	do.Provide(di, flow.New)
	do.Provide(di, webhook.New)
	do.Provide(di, mcptool.New)

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	command := ""
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "seed":
		if len(os.Args) < 3 {
			log.Fatal("usage: policyvoice seed <fixture.yaml>")
		}
		if err = runSeed(appCtx, di, os.Args[2]); err != nil {
			slog.Error("Seeding failed", "error", err)
		}
	case "mcp":
		slog.Info("Serving MCP over stdio")
		if err = do.MustInvoke[*mcptool.Service](di).Serve(); err != nil {
			slog.Error("MCP server failed", "error", err)
		}
	case "":
		runServer(appCtx, di)
	default:
		log.Fatalf("unknown command %q, expected seed or mcp", command)
	}
}

func runServer(ctx context.Context, di *do.Injector) {
	group, ctx := errgroup.WithContext(ctx)

	server := do.MustInvoke[*webhook.Server](di)
	group.Go(func() error {
		return server.Run(ctx)
	})

	slog.Info("Service started")

	if err := group.Wait(); err != nil {
		slog.Error("Webhook server failed", "error", err)
	}
}

func runSeed(ctx context.Context, di *do.Injector, path string) error {
	fixture, err := seed.LoadFile(path)
	if err != nil {
		return err
	}

	return seed.Apply(ctx, do.MustInvoke[store](di), fixture)
}

func provideStore(di *do.Injector, cfg *config.Config) {
	switch cfg.Storage.Driver {
	case "postgres":
		do.Provide(di, func(i *do.Injector) (store, error) {
			return postgres.New(i)
		})
	default:
		do.Provide(di, func(i *do.Injector) (store, error) {
			return sqlite.New(i)
		})
	}

	do.Provide(di, func(i *do.Injector) (customer.Store, error) {
		return do.Invoke[store](i)
	})
	do.Provide(di, func(i *do.Injector) (persistence.HistoryWriter, error) {
		return do.Invoke[store](i)
	})

	switch cfg.Telemetry.Sink {
	case "nats":
		do.Provide(di, func(i *do.Injector) (persistence.TelemetrySink, error) {
			return natsbus.New(i)
		})
	default:
		do.Provide(di, func(i *do.Injector) (persistence.TelemetrySink, error) {
			return do.Invoke[store](i)
		})
	}
}

func provideCapabilities(di *do.Injector, cfg *config.Config) {
	if cfg.OpenAI.Classifier.Enabled() {
		do.Provide(di, func(i *do.Injector) (guardrails.Classifier, error) {
			return llm.NewClassifier(i)
		})
	} else {
		slog.Info("No classifier model configured, using keyword classifier")
		do.ProvideValue[guardrails.Classifier](di, heuristic.New())
	}

	do.Provide(di, func(i *do.Injector) (flow.Searcher, error) {
		return llm.NewSearcher(i)
	})
	do.Provide(di, func(i *do.Injector) (response.Formatter, error) {
		return llm.NewFormatter(i)
	})
}
