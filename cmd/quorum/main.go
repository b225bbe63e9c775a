package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zen-systems/quorum/pkg/adapter"
	"github.com/zen-systems/quorum/pkg/config"
	"github.com/zen-systems/quorum/pkg/orchestrator"
	"github.com/zen-systems/quorum/pkg/registry"
	"github.com/zen-systems/quorum/pkg/router"
	"github.com/zen-systems/quorum/pkg/skill"
	"github.com/zen-systems/quorum/pkg/subagent"
)

// exitTempFail is returned when every attempted backend failed transiently.
const exitTempFail = 75

var (
	configFile  string
	metricsAddr string
	logLevel    string
	jsonOutput  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quorum",
		Short: "Route analysis skills across AI backends with failover and cross-verification",
		Long: `Quorum runs templated analysis skills on command-line AI backends
(claude, codex, gemini) and optional API backends, falls back through a
per-domain chain when a backend fails, and can ask other backends to verify
high-stakes results.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ~/.quorum/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(askCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(skillsCmd())
	rootCmd.AddCommand(routesCmd())
	rootCmd.AddCommand(batchCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if adapter.IsTransient(err) {
			os.Exit(exitTempFail)
		}
		os.Exit(1)
	}
}

type skillFlags struct {
	inputs    []string
	inputFile string
	backend   string
	chain     string
	strict    bool
	verifiers int
}

func (f *skillFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringArrayVarP(&f.inputs, "input", "i", nil, "template variable as key=value (repeatable)")
	cmd.Flags().StringVar(&f.inputFile, "input-file", "", "YAML or JSON file with template variables")
	cmd.Flags().StringVar(&f.backend, "backend", "", "backend to try first")
	cmd.Flags().StringVar(&f.chain, "chain", "", "explicit fallback chain, e.g. codex,claude")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "fail instead of trying the primary when no backend is healthy")
}

func (f *skillFlags) options() orchestrator.Options {
	opts := orchestrator.Options{
		Backend:      adapter.BackendType(f.backend),
		StrictHealth: f.strict,
	}
	if f.chain != "" {
		opts.Chain = parseChain(f.chain)
	}
	return opts
}

func (f *skillFlags) input() (map[string]any, error) {
	input := map[string]any{}
	if f.inputFile != "" {
		data, err := os.ReadFile(f.inputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read input file: %w", err)
		}
		if err := yaml.Unmarshal(data, &input); err != nil {
			return nil, fmt.Errorf("failed to parse input file: %w", err)
		}
	}
	for _, kv := range f.inputs {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --input %q, expected key=value", kv)
		}
		input[key] = value
	}
	return input, nil
}

func runCmd() *cobra.Command {
	var flags skillFlags

	cmd := &cobra.Command{
		Use:   "run [skill]",
		Short: "Execute a skill through its fallback chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.stop()

			input, err := flags.input()
			if err != nil {
				return err
			}

			resp, err := a.orch.Execute(cmd.Context(), args[0], input, flags.options())
			if err != nil {
				return err
			}
			reportServed(resp)
			if jsonOutput {
				return printJSON(resp)
			}
			fmt.Println(resp.Text)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func verifyCmd() *cobra.Command {
	var flags skillFlags

	cmd := &cobra.Command{
		Use:   "verify [skill]",
		Short: "Execute a skill and cross-verify the result on other backends",
		Long: `Runs the skill, then dispatches the verify-analysis skill to other
backends in parallel and reduces their verdicts to unanimous, majority or
no_consensus. Use --verifiers to override the per-skill default.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.stop()

			input, err := flags.input()
			if err != nil {
				return err
			}
			opts := flags.options()
			if cmd.Flags().Changed("verifiers") {
				opts.Verify = &orchestrator.VerifyConfig{Enabled: flags.verifiers > 0, Verifiers: flags.verifiers}
			}

			result, err := a.orch.ExecuteWithVerification(cmd.Context(), args[0], input, opts)
			if err != nil {
				return err
			}
			reportServed(result.Primary)
			if jsonOutput {
				return printJSON(result)
			}

			fmt.Println(result.Primary.Text)
			fmt.Println()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "CONSENSUS\t%s\n", result.Status)
			fmt.Fprintln(w, "VERIFIER\tAGREES\tCONFIDENCE\tCONCERNS")
			for _, v := range result.Verifications {
				fmt.Fprintf(w, "%s\t%t\t%.2f\t%s\n", v.Backend, v.Agrees, v.Confidence, strings.Join(v.Concerns, "; "))
			}
			return w.Flush()
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&flags.verifiers, "verifiers", 0, "number of verifier backends (0 disables)")
	return cmd
}

func askCmd() *cobra.Command {
	var domain, backend, system string
	var maxTokens int
	var temperature float64

	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send an ad-hoc prompt without a skill",
		Long: `Routes the prompt through the fallback chain of --domain, or of the
domain whose trigger words appear in the prompt when --domain is empty.
The prompt is read from stdin when omitted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := ""
			if len(args) == 1 {
				prompt = args[0]
			} else {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				prompt = strings.TrimSpace(string(data))
			}
			if prompt == "" {
				return fmt.Errorf("prompt is required")
			}

			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.stop()

			req := adapter.GenerationRequest{
				System:          system,
				Prompt:          prompt,
				MaxOutputTokens: maxTokens,
				Temperature:     temperature,
			}
			resp, err := a.orch.ExecuteRaw(cmd.Context(), req, domain, adapter.BackendType(backend))
			if err != nil {
				return err
			}
			reportServed(resp)
			if jsonOutput {
				return printJSON(resp)
			}
			fmt.Println(resp.Text)
			return nil
		},
	}

	cmd.Flags().StringVar(&domain, "domain", "", "task domain (news, analysis, verification, chat)")
	cmd.Flags().StringVar(&backend, "backend", "", "backend to try first")
	cmd.Flags().StringVar(&system, "system", "", "system instructions")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "maximum output tokens (API backends)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0.7, "sampling temperature (API backends)")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe every registered backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.stop()

			results := a.orch.CheckAllHealth(cmd.Context())
			if jsonOutput {
				return printJSON(results)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "BACKEND\tSTATUS\tLATENCY\tERROR")
			for _, h := range results {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", h.Backend, h.Status, h.Latency.Round(time.Millisecond), h.Error)
			}
			return w.Flush()
		},
	}
}

func skillsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "skills",
		Short: "List registered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			skills, err := skill.Load(cfg.SkillsFile)
			if err != nil {
				return fmt.Errorf("failed to load skills: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SKILL\tBACKEND\tVERIFY\tDESCRIPTION")
			for _, id := range skills.IDs() {
				s, _ := skills.Get(id)
				verify := "-"
				if v, ok := cfg.Verification[id]; ok && v.Enabled {
					verify = fmt.Sprintf("%d", v.Verifiers)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.PreferredBackend, verify, s.Description)
			}
			return w.Flush()
		},
	}
}

func routesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Show domain fallback chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAIN\tCHAIN\tPREFIXES\tTRIGGERS")
			for _, r := range router.FromConfig(cfg).Routes() {
				name := r.Domain
				if r.Default {
					name += " (default)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, r.Chain, formatList(r.Prefixes), formatList(r.Triggers))
			}
			return w.Flush()
		},
	}
}

type batchFile struct {
	Tasks []subagent.Task `yaml:"tasks"`
}

func batchCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run a batch of independent tasks concurrently",
		Long: `Reads tasks from a YAML file:

  tasks:
    - id: news-1
      skill: classify-news
      input: {articleCount: "1", articleList: "..."}
      timeout: 2m
    - id: acme
      skill: analyze-stock
      backend: codex
      verify: true

Each task has its own timeout; a failing task never affects the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var bf batchFile
			if err := yaml.Unmarshal(data, &bf); err != nil {
				return fmt.Errorf("failed to parse batch file: %w", err)
			}

			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.stop()

			batch := a.executor().Run(cmd.Context(), bf.Tasks)
			if jsonOutput {
				if err := printJSON(batch); err != nil {
					return err
				}
			} else {
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TASK\tSTATUS\tBACKEND\tDURATION\tDETAIL")
				for _, r := range batch.Results {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.TaskID, taskStatus(r), taskBackend(r), r.Duration.Round(time.Millisecond), r.Error)
				}
				fmt.Fprintf(w, "\n%d succeeded, %d failed in %s\n", batch.Succeeded, batch.Failed, batch.Duration.Round(time.Millisecond))
				if err := w.Flush(); err != nil {
					return err
				}
			}
			if batch.Failed > 0 {
				return fmt.Errorf("%d of %d tasks failed", batch.Failed, len(batch.Results))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "batch task file (required)")
	return cmd
}

// runningApp is an app plus the optional metrics server started for it.
type runningApp struct {
	*app
	server *http.Server
}

func (r *runningApp) stop() {
	if r.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = r.server.Shutdown(ctx)
}

func setup(ctx context.Context) (*runningApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r := &runningApp{app: a}
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.metrics.Handler())
		r.server = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.WithError(err).Warn("metrics server stopped")
			}
		}()
		a.log.WithField("addr", cfg.Metrics.Addr).Info("serving metrics")
	}
	return r, nil
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	return cfg, nil
}

func parseChain(s string) registry.FallbackChain {
	var members []adapter.BackendType
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			members = append(members, adapter.BackendType(part))
		}
	}
	if len(members) == 0 {
		return registry.FallbackChain{}
	}
	return registry.NewFallbackChain(members[0], members[1:]...)
}

func reportServed(resp *adapter.GenerationResponse) {
	if resp.WasFallback {
		fmt.Fprintf(os.Stderr, "Served by %s (fallback from %s) in %s\n", resp.Provider, resp.OriginalProvider, resp.Duration.Round(time.Millisecond))
		return
	}
	fmt.Fprintf(os.Stderr, "Served by %s in %s\n", resp.Provider, resp.Duration.Round(time.Millisecond))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

func taskStatus(r subagent.Result) string {
	if !r.Success {
		return "failed"
	}
	if r.Consensus != nil {
		return string(r.Consensus.Status)
	}
	return "ok"
}

func taskBackend(r subagent.Result) string {
	resp := r.Response
	if r.Consensus != nil {
		resp = r.Consensus.Primary
	}
	if resp == nil {
		return "-"
	}
	if resp.WasFallback {
		return fmt.Sprintf("%s (from %s)", resp.Provider, resp.OriginalProvider)
	}
	return string(resp.Provider)
}
