package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/flexpoint/dispatch"
	"github.com/c360/flexpoint/extension"
	"github.com/c360/flexpoint/selector"
)

// OrderProcessor is the demo capability.
type OrderProcessor interface {
	Process(ctx context.Context, order string) (string, error)
}

type channelProcessor struct {
	channel string
	// failEvery makes every n-th order fail; 0 never fails.
	failEvery int
	count     int
}

func (p *channelProcessor) Process(_ context.Context, order string) (string, error) {
	p.count++
	if p.failEvery > 0 && p.count%p.failEvery == 0 {
		return "", fmt.Errorf("%s: warehouse unavailable for %s", p.channel, order)
	}
	return p.channel + " accepted " + order, nil
}

// greyChain routes listed beta users to the grey build before the usual
// code matching.
const greyChain = "grey-release"

func registerDemo(rt *dispatch.Runtime) error {
	op := extension.CapabilityOf[OrderProcessor]()
	rt.Declare(op)

	extensions := []*extension.Extension{
		extension.New(&channelProcessor{channel: "mall"},
			extension.WithCode("mall"), extension.WithPriority(10),
			extension.WithDescription("default storefront flow")),
		extension.New(&channelProcessor{channel: "logistics", failEvery: 7},
			extension.WithCode("logistics"), extension.WithPriority(20)),
		extension.New(&channelProcessor{channel: "mall-v2"},
			extension.WithCode("mall"), extension.WithVersion("2.0"), extension.WithID("mall-grey"),
			extension.WithPriority(30), extension.WithTag(selector.TagGrey, "true")),
	}
	for _, ext := range extensions {
		if _, err := rt.RegisterExtension(ext); err != nil {
			return err
		}
	}

	if err := rt.RegisterSelector(selector.GreyList("beta-users", extension.KeyUser, []string{"u-7", "u-42"})); err != nil {
		return err
	}
	return rt.DefineChain(greyChain, "beta-users", "code", "first")
}

// demoContext spreads orders over channels and users.
func demoContext(i int) extension.Context {
	codes := []string{"mall", "logistics", "mall", "unknown"}
	return extension.NewContext(codes[i%len(codes)]).
		With(extension.KeyUser, fmt.Sprintf("u-%d", i%50))
}

func runDemo(ctx context.Context, rt *dispatch.Runtime, iterations int, logger *slog.Logger) error {
	op := extension.CapabilityOf[OrderProcessor]()
	failures := 0

	for i := range iterations {
		ectx := demoContext(i)
		ext, err := rt.FindWithChain(op, ectx, greyChain)
		if err != nil {
			return err
		}
		if ext == nil {
			continue
		}
		processor := ext.Instance.(OrderProcessor)
		order := fmt.Sprintf("order-%04d", i)

		err = dispatch.Invoke(ctx, rt, op, ext, func() error {
			_, err := processor.Process(ctx, order)
			return err
		})
		if err != nil {
			failures++
			logger.Debug("Order failed", "order", order, "extension", ext.ID(op), "error", err)
		}
	}

	// Typed path through the default chain.
	result, err := dispatch.Call(ctx, rt, extension.NewContext("logistics"),
		func(p OrderProcessor) (string, error) { return p.Process(ctx, "order-final") })
	if err != nil {
		logger.Warn("Final order failed", "error", err)
	} else {
		logger.Info("Final order", "result", result)
	}

	logger.Info("Demo finished", "orders", iterations, "failures", failures)
	return nil
}

func report(rt *dispatch.Runtime, logger *slog.Logger) {
	metrics := rt.AllMetrics()
	for _, id := range sortedIDs(metrics) {
		s := metrics[id]
		logger.Info("Extension metrics",
			"extension", id,
			"total", s.Total,
			"success_rate", fmt.Sprintf("%.3f", s.SuccessRate),
			"avg", s.AverageDuration,
			"p99", s.P99,
			"exceptions", s.Exceptions)
	}

	cs := rt.CacheStats()
	logger.Info("Decision cache", "hits", cs.Hits, "misses", cs.Misses,
		"hit_rate", fmt.Sprintf("%.3f", cs.HitRate), "size", cs.Size)

	h := rt.Health()
	logger.Info("Health", "status", h.Status, "message", h.Message, "extensions", len(h.SubStatuses))
}
