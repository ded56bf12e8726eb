// Package cli wires configuration, providers, actions and surfaces together
// for the command-line entry points.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"

	"github.com/weichinwang/marketagent/charts"
	"github.com/weichinwang/marketagent/config"
	"github.com/weichinwang/marketagent/dispatch"
	"github.com/weichinwang/marketagent/findata"
	"github.com/weichinwang/marketagent/llm"
	"github.com/weichinwang/marketagent/model"
	"github.com/weichinwang/marketagent/period"
	"github.com/weichinwang/marketagent/rag"
	"github.com/weichinwang/marketagent/report"
	"github.com/weichinwang/marketagent/server"
	"github.com/weichinwang/marketagent/storage"
	"github.com/weichinwang/marketagent/tabular"
)

// Options carries the flags shared across commands.
type Options struct {
	Provider    string // openai, anthropic, deepseek, gemini
	Model       string // overrides the provider's configured model
	Temperature float64
	MaxTokens   uint32
	Verbose     bool
}

// QueryParams carries the query command's inputs.
type QueryParams struct {
	Prompt  string
	History string // JSON [{role, parts:[{text}]}]
	Role    string // Global, China or Korea
	Auto    bool   // let the model answer without a tool
}

// buildProvider constructs the provider from settings plus flag overrides.
func buildProvider(settings config.Settings, opts Options) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	modelName := settings.LLM.Model
	if opts.Model != "" {
		modelName = opts.Model
	}
	maxTokens := settings.LLM.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	temperature := settings.LLM.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	return llm.NewProviderBuilder(providerType).
		Model(modelName).
		MaxTokens(maxTokens).
		Temperature(float32(temperature)).
		FromEnv()
}

// buildSelector maps roles onto dataset sources from settings.
func buildSelector(settings config.Settings) findata.Selector {
	return findata.Selector{
		LocalPath:      settings.Data.LocalCSV,
		GlobalBucket:   settings.Data.GlobalBucket,
		GlobalObject:   settings.Data.GlobalObject,
		RegionalBucket: settings.Data.RegionalBucket,
	}
}

// buildRegistry registers the three actions against one provider.
func buildRegistry(provider llm.Provider, settings config.Settings) (*dispatch.Registry, error) {
	selector := buildSelector(settings)

	corpora := rag.NewCorpusRegistry(map[model.Role]string{
		model.RoleGlobal: settings.RAG.GlobalCorpus,
		model.RoleChina:  settings.RAG.ChinaCorpus,
		model.RoleKorea:  settings.RAG.KoreaCorpus,
	}, settings.RAG.GlobalTopK, settings.RAG.RegionalTopK, settings.RAG.DistanceThreshold)

	registry := dispatch.NewRegistry()
	handlers := []dispatch.Handler{
		charts.NewAction(selector.For, settings.Dispatch.ChartDir),
		rag.NewAction(provider, corpora),
		tabular.NewAction(provider, selector.For),
	}
	for _, h := range handlers {
		if err := registry.Register(h); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// envelope parses the configured data range.
func envelope(settings config.Settings) (period.Range, error) {
	start, err := period.Parse(settings.Data.EnvelopeStart)
	if err != nil {
		return period.Range{}, fmt.Errorf("bad envelope start: %w", err)
	}
	end, err := period.Parse(settings.Data.EnvelopeEnd)
	if err != nil {
		return period.Range{}, fmt.Errorf("bad envelope end: %w", err)
	}
	return period.Range{Start: start, End: end}, nil
}

// Query dispatches one prompt through the tool router and prints the result.
// A Failed outcome is returned as an error so the process exits non-zero.
func Query(ctx context.Context, params QueryParams, opts Options) error {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return err
	}

	provider, err := buildProvider(settings, opts)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(provider, settings)
	if err != nil {
		return err
	}

	env, err := envelope(settings)
	if err != nil {
		return err
	}

	role, err := model.ParseRole(params.Role)
	if err != nil {
		return err
	}

	history, err := model.ParseHistory(params.History)
	if err != nil {
		return err
	}

	router := dispatch.NewRouter(provider, registry, env,
		dispatch.WithCallTimeout(settings.Dispatch.CallTimeout),
		dispatch.WithMaxRetries(settings.Dispatch.MaxRetries),
		dispatch.WithDebugDump(settings.Dispatch.DebugDumpPath),
		dispatch.WithVerbose(opts.Verbose),
	)

	result := router.Dispatch(ctx, dispatch.Request{
		Role:        role,
		Prompt:      params.Prompt,
		Model:       provider.Model(),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		History:     history,
		Forced:      !params.Auto,
	})

	if opts.Verbose && result.Usage != nil {
		fmt.Fprintf(os.Stderr, "tokens: prompt=%d completion=%d total=%d calls=%d\n",
			result.Usage.PromptTokens, result.Usage.CompletionTokens,
			result.Usage.TotalTokens, result.Usage.Calls)
	}

	switch result.Outcome {
	case dispatch.OutcomeAnswered:
		fmt.Println(result.Answer)
		return nil
	case dispatch.OutcomeRejected:
		fmt.Println(result.Reason)
		return nil
	default:
		return fmt.Errorf("dispatch failed: %s", result.Error)
	}
}

// Report runs the five-stage report pipeline and prints the final report path.
func Report(ctx context.Context, params report.Params, outRoot string, opts Options) error {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return err
	}

	provider, err := buildProvider(settings, opts)
	if err != nil {
		return err
	}

	if outRoot == "" {
		outRoot = settings.Report.OutputRoot
	}
	run, err := report.NewRunContext(outRoot)
	if err != nil {
		return err
	}

	pipeline := report.NewPipeline(provider, run)
	pipeline.SetVerbose(opts.Verbose)

	state, err := pipeline.Run(ctx, params)
	if err != nil {
		return err
	}

	fmt.Printf("report written to %s\n", state.ReportPath)
	return nil
}

// Serve runs the HTTP chat surface until the listener fails.
func Serve(ctx context.Context, addr, dbPath string, opts Options) error {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return err
	}

	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return err
	}

	// Each request may name its own model, so providers are built per call.
	factory := func(modelName string) (llm.Provider, error) {
		return llm.NewProviderBuilder(providerType).
			Model(modelName).
			MaxTokens(settings.LLM.MaxTokens).
			Temperature(float32(settings.LLM.Temperature)).
			FromEnv()
	}

	serverOpts := []server.Option{}
	if dbPath != "" {
		store, err := storage.OpenSqlite(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		serverOpts = append(serverOpts, server.WithStore(store))
	}

	srv := server.New(factory, serverOpts...)
	log.Printf("listening on %s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}

// ListActions prints the registered tool descriptors.
func ListActions(verbose bool) error {
	settings, err := config.New("gemini")
	if err != nil {
		return err
	}

	// Descriptors don't need a live provider.
	registry, err := buildRegistry(nil, settings)
	if err != nil {
		return err
	}

	for _, def := range registry.Descriptors() {
		fmt.Printf("%s\n", def.Name)
		fmt.Printf("  %s\n", def.Description)
		if verbose {
			params, err := json.Marshal(def.Parameters)
			if err != nil {
				return fmt.Errorf("failed to render %s parameters: %w", def.Name, err)
			}
			fmt.Printf("  parameters: %s\n", params)
		}
	}
	return nil
}
