// Command prospectai drives the prospect pipeline from the terminal: full
// discovery campaigns, single-company runs, email-only passes, and the
// operator controls for a campaign that is already running.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Unisami/ProspectAI-sub000/internal/campaign"
	"github.com/Unisami/ProspectAI-sub000/internal/config"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/httpclient"
	"github.com/Unisami/ProspectAI-sub000/internal/hunter"
	"github.com/Unisami/ProspectAI-sub000/internal/llm"
	"github.com/Unisami/ProspectAI-sub000/internal/ratelimit"
	"github.com/Unisami/ProspectAI-sub000/internal/store"
)

// Exit codes, stable for scripting.
const (
	exitConfig  = 1
	exitFatal   = 2
	exitPartial = 3
)

// exitErr carries an explicit exit code out through cobra.
type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitErr
	if errors.As(err, &ee) {
		return ee.code
	}
	if errkind.Of(err) == errkind.Config {
		return exitConfig
	}
	return exitFatal
}

var (
	cfgPath string

	runLimit     int
	campaignName string
	genEmails    bool
	sendEmails   bool
	templateName string

	companyDomain string
	prospectIDs   []string

	sendBatchSize int
	sendDelaySecs int

	campaignID  string
	pauseReason string
)

var rootCmd = &cobra.Command{
	Use:   "prospectai",
	Short: "Prospect discovery and outreach automation",
	Long: `prospectai discovers companies from a product-launch feed, extracts the
people behind them, resolves emails and public profiles, enriches each
prospect with AI-structured insights, and stores everything in the
configured document database. Email generation and sending are separate,
optional stages.`,
	SilenceUsage: true,
}

var runCampaignCmd = &cobra.Command{
	Use:   "run-campaign",
	Short: "Discover companies and run the full pipeline",
	RunE:  runCampaign,
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run discovery and enrichment with the email stages off",
	RunE:  runDiscover,
}

var processCompanyCmd = &cobra.Command{
	Use:   "process-company NAME",
	Short: "Run the pipeline for one company, reprocessing if already stored",
	Args:  cobra.ExactArgs(1),
	RunE:  runProcessCompany,
}

var generateEmailsCmd = &cobra.Command{
	Use:   "generate-emails",
	Short: "Draft outreach for specific stored prospects",
	RunE:  runGenerateEmails,
}

var generateRecentCmd = &cobra.Command{
	Use:   "generate-emails-recent",
	Short: "Draft outreach for recently stored prospects that have none",
	RunE:  runGenerateRecent,
}

var sendRecentCmd = &cobra.Command{
	Use:   "send-emails-recent",
	Short: "Send drafts that are generated but not yet delivered",
	RunE:  runSendRecent,
}

var pauseCampaignCmd = &cobra.Command{
	Use:   "pause-campaign",
	Short: "Post a pause command to a running campaign",
	Long: `Posts a durable pause command to the store. The running campaign picks
it up on its next control poll; workers park between stages until a
resume is posted or the campaign is stopped.`,
	RunE: runPauseCampaign,
}

var campaignStatusCmd = &cobra.Command{
	Use:   "campaign-status",
	Short: "Print the stored progress of a campaign",
	RunE:  runCampaignStatus,
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Check the configuration and probe the configured services",
	RunE:  runValidateConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "path to the configuration file")

	runCampaignCmd.Flags().IntVar(&runLimit, "limit", 10, "number of companies to process")
	runCampaignCmd.Flags().StringVar(&campaignName, "campaign-name", "", "label for the campaign record")
	runCampaignCmd.Flags().BoolVar(&genEmails, "generate-emails", false, "draft outreach for every stored prospect")
	runCampaignCmd.Flags().BoolVar(&sendEmails, "send-emails", false, "send drafts as they are generated")
	runCampaignCmd.Flags().StringVar(&templateName, "template", string(domain.TemplateColdOutreach), "email angle: cold_outreach, referral, product_interest, networking, follow_up")

	discoverCmd.Flags().IntVar(&runLimit, "limit", 10, "number of companies to process")
	discoverCmd.Flags().StringVar(&campaignName, "campaign-name", "", "label for the campaign record")

	processCompanyCmd.Flags().StringVar(&companyDomain, "domain", "", "company domain, used for email search")
	processCompanyCmd.Flags().BoolVar(&genEmails, "generate-emails", false, "draft outreach for the stored prospects")
	processCompanyCmd.Flags().BoolVar(&sendEmails, "send-emails", false, "send drafts as they are generated")
	processCompanyCmd.Flags().StringVar(&templateName, "template", string(domain.TemplateColdOutreach), "email angle for generated drafts")

	generateEmailsCmd.Flags().StringSliceVar(&prospectIDs, "prospect-ids", nil, "prospect ids to draft for")
	generateEmailsCmd.Flags().StringVar(&templateName, "template", string(domain.TemplateColdOutreach), "email angle for generated drafts")
	_ = generateEmailsCmd.MarkFlagRequired("prospect-ids")

	generateRecentCmd.Flags().IntVar(&runLimit, "limit", 10, "most recent prospects to consider")
	generateRecentCmd.Flags().StringVar(&templateName, "template", string(domain.TemplateColdOutreach), "email angle for generated drafts")

	sendRecentCmd.Flags().IntVar(&runLimit, "limit", 10, "most recent drafts to consider")
	sendRecentCmd.Flags().IntVar(&sendBatchSize, "batch-size", 0, "override email.batch_size for this run")
	sendRecentCmd.Flags().IntVar(&sendDelaySecs, "delay", 0, "override email.batch_delay_seconds for this run")

	pauseCampaignCmd.Flags().StringVar(&campaignID, "campaign-id", "", "campaign to pause")
	pauseCampaignCmd.Flags().StringVar(&pauseReason, "reason", "", "recorded with the command")
	_ = pauseCampaignCmd.MarkFlagRequired("campaign-id")

	campaignStatusCmd.Flags().StringVar(&campaignID, "campaign-id", "", "campaign to inspect")
	_ = campaignStatusCmd.MarkFlagRequired("campaign-id")

	rootCmd.AddCommand(runCampaignCmd, discoverCmd, processCompanyCmd,
		generateEmailsCmd, generateRecentCmd, sendRecentCmd,
		pauseCampaignCmd, campaignStatusCmd, validateConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// signalContext returns a context cancelled on the first SIGINT or
// SIGTERM. Cancellation propagates through the orchestrator, which stops
// producing work and drives the campaign record to a terminal state.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(quit)
		select {
		case sig := <-quit:
			log.Printf("[CLI] received %s, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// loadConfig reads and validates the configuration; any problem maps to
// the config exit code.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		return nil, &exitErr{code: exitConfig, err: fmt.Errorf("loading config %s: %w", cfgPath, err)}
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			log.Printf("[Config] %v", e)
		}
		return nil, &exitErr{code: exitConfig, err: fmt.Errorf("configuration invalid, %d problem(s) logged", len(errs))}
	}
	return cfg, nil
}

func buildRuntime(ctx context.Context) (*Runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return newRuntime(ctx, cfg)
}

func runCampaign(cmd *cobra.Command, args []string) error {
	tmpl, err := domain.ParseEmailTemplate(templateName)
	if err != nil {
		return &exitErr{code: exitConfig, err: err}
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.API != nil {
		rt.API.Start()
	}
	warnHunterQuota(ctx, rt)

	sum, err := rt.Orch.Run(ctx, campaign.Request{
		Limit:          runLimit,
		Name:           campaignName,
		GenerateEmails: genEmails,
		SendEmails:     sendEmails,
		Template:       tmpl,
	})
	if err != nil {
		return err
	}
	flushAnalytics(rt)
	printSummary(sum)
	return summaryErr(sum)
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	warnHunterQuota(ctx, rt)

	sum, err := rt.Orch.Run(ctx, campaign.Request{Limit: runLimit, Name: campaignName})
	if err != nil {
		return err
	}
	flushAnalytics(rt)
	printSummary(sum)
	return summaryErr(sum)
}

func runProcessCompany(cmd *cobra.Command, args []string) error {
	tmpl, err := domain.ParseEmailTemplate(templateName)
	if err != nil {
		return &exitErr{code: exitConfig, err: err}
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	company := domain.Company{
		Name:   strings.TrimSpace(args[0]),
		Domain: companyDomain,
		Source: "manual",
	}
	sum, err := rt.Orch.ProcessCompany(ctx, company, campaign.Request{
		GenerateEmails: genEmails,
		SendEmails:     sendEmails,
		Template:       tmpl,
	})
	if err != nil {
		return err
	}
	flushAnalytics(rt)
	printSummary(sum)
	return summaryErr(sum)
}

func runGenerateEmails(cmd *cobra.Command, args []string) error {
	tmpl, err := domain.ParseEmailTemplate(templateName)
	if err != nil {
		return &exitErr{code: exitConfig, err: err}
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.Orch.GenerateFor(ctx, prospectIDs, tmpl)
	if err != nil {
		return err
	}
	fmt.Printf("generated %d draft(s) for %d prospect id(s)\n", n, len(prospectIDs))
	return nil
}

func runGenerateRecent(cmd *cobra.Command, args []string) error {
	tmpl, err := domain.ParseEmailTemplate(templateName)
	if err != nil {
		return &exitErr{code: exitConfig, err: err}
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := buildRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.Orch.GenerateRecent(ctx, runLimit, tmpl)
	if err != nil {
		return err
	}
	fmt.Printf("generated %d draft(s)\n", n)
	return nil
}

func runSendRecent(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if sendBatchSize > 0 {
		cfg.Email.BatchSize = sendBatchSize
	}
	if cmd.Flags().Changed("delay") {
		cfg.Email.BatchDelaySeconds = sendDelaySecs
	}

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.Orch.SendRecent(ctx, runLimit)
	if err != nil {
		return err
	}
	fmt.Printf("sent %d email(s)\n", n)
	return nil
}

func runPauseCampaign(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if _, err := st.GetCampaign(ctx, campaignID); err != nil {
		return fmt.Errorf("looking up campaign %s: %w", campaignID, err)
	}

	row := &domain.ControlCommand{
		CampaignID:  campaignID,
		Action:      domain.ControlPause,
		RequestedBy: "cli",
		SeenAt:      time.Now().UTC(),
	}
	if pauseReason != "" {
		row.Parameters = map[string]string{"reason": pauseReason}
	}
	if err := st.AppendControlCommand(ctx, row); err != nil {
		return err
	}
	fmt.Printf("pause posted for campaign %s\n", campaignID)
	return nil
}

func runCampaignStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	prog, err := st.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	printProgress(prog)
	return nil
}

func runValidateConfig(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		return &exitErr{code: exitConfig, err: fmt.Errorf("loading config %s: %w", cfgPath, err)}
	}

	failures := 0
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Printf("FAIL  config: %v\n", e)
		}
		failures += len(errs)
	} else {
		fmt.Println("ok    config")
	}

	if cfg.SenderProfile != "" {
		if _, err := config.LoadSenderProfile(cfg.SenderProfile); err != nil {
			fmt.Printf("FAIL  sender profile: %v\n", err)
			failures++
		} else {
			fmt.Println("ok    sender profile")
		}
	}

	limiter := ratelimit.New(serviceLimits(cfg))
	client := httpclient.New(limiter, httpclient.Options{Timeout: cfg.Scraping.Timeout()})

	st, err := store.New(ctx, cfg, client)
	if err != nil {
		fmt.Printf("FAIL  storage (%s): %v\n", cfg.Storage.Type, err)
		failures++
	} else {
		pctx, pcancel := context.WithTimeout(ctx, 10*time.Second)
		if err := st.Ping(pctx); err != nil {
			fmt.Printf("FAIL  storage (%s): %v\n", cfg.Storage.Type, err)
			failures++
		} else {
			fmt.Printf("ok    storage (%s)\n", cfg.Storage.Type)
		}
		pcancel()
	}

	registry, err := llm.NewFromConfig(cfg)
	if err != nil {
		fmt.Printf("FAIL  llm registry: %v\n", err)
		failures++
	} else {
		vctx, vcancel := context.WithTimeout(ctx, 30*time.Second)
		reports := registry.ValidateAll(vctx)
		vcancel()
		names := make([]string, 0, len(reports))
		for name := range reports {
			names = append(names, name)
		}
		sort.Strings(names)
		// Only the active backend gates the exit code; the rest are
		// informational.
		for _, name := range names {
			rep := reports[name]
			switch {
			case rep.OK:
				fmt.Printf("ok    llm %s: %s\n", name, rep.Detail)
			case name == cfg.AI.Backend:
				fmt.Printf("FAIL  llm %s (active): %s\n", name, rep.Detail)
				failures++
			default:
				fmt.Printf("warn  llm %s: %s\n", name, rep.Detail)
			}
		}
	}

	hcl := hunter.NewClient(client, cfg.Hunter)
	if hcl.Enabled() {
		actx, acancel := context.WithTimeout(ctx, 10*time.Second)
		acct, err := hcl.AccountInfo(actx)
		acancel()
		if err != nil {
			fmt.Printf("FAIL  hunter: %v\n", err)
			failures++
		} else {
			fmt.Printf("ok    hunter: plan %s, %d/%d searches used\n",
				acct.PlanName, acct.SearchesUsed, acct.SearchesAvailable)
		}
	} else {
		fmt.Println("skip  hunter: no api key, email finding disabled")
	}

	if cfg.SendEnabled() {
		fmt.Printf("ok    email delivery: %s configured\n", cfg.Email.Provider)
	} else {
		fmt.Printf("skip  email delivery: %s has no credentials, sending disabled\n", cfg.Email.Provider)
	}

	if failures > 0 {
		return &exitErr{code: exitConfig, err: fmt.Errorf("%d check(s) failed", failures)}
	}
	fmt.Println("all checks passed")
	return nil
}

// summaryErr maps a finished run onto the CLI contract: a failed campaign
// is fatal, a completed one with failed companies is partial, anything
// else is success.
func summaryErr(sum *campaign.Summary) error {
	switch {
	case sum.Progress.Status == domain.CampaignFailed:
		return &exitErr{code: exitFatal, err: fmt.Errorf("campaign %s did not complete", sum.CampaignID)}
	case sum.PartialFailure():
		return &exitErr{code: exitPartial, err: fmt.Errorf("campaign completed with %d failed companies", sum.Failed)}
	}
	return nil
}

// warnHunterQuota posts a quota warning before a run when the
// email-finder plan is at least 90% consumed, so a long campaign does
// not burn the last searches silently. Probe failures only log; the
// run proceeds either way.
func warnHunterQuota(ctx context.Context, rt *Runtime) {
	if rt.Hunter == nil || !rt.Hunter.Enabled() {
		return
	}
	actx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	acct, err := rt.Hunter.AccountInfo(actx)
	if err != nil {
		log.Printf("[CLI] hunter quota probe: %v", err)
		return
	}
	if acct.SearchesAvailable > 0 && acct.SearchesUsed*100/acct.SearchesAvailable >= 90 {
		rt.Notifier.SendQuotaWarning(ctx, "hunter", acct.SearchesUsed, acct.SearchesAvailable)
	}
}

// flushAnalytics persists today's rollup on a fresh deadline so the
// numbers land even when the run context is already cancelled, then
// posts the day-to-date digest. Sunday runs also close out the week
// with a report over every day this process accumulated.
func flushAnalytics(rt *Runtime) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := rt.Rollup.FlushToday(ctx); err != nil {
		log.Printf("[CLI] flushing daily analytics: %v", err)
	}
	now := time.Now().UTC()
	if day, ok := rt.Rollup.Day(domain.DayKey(now)); ok {
		rt.Notifier.SendDailySummary(ctx, &day)
	}
	if now.Weekday() == time.Sunday {
		rt.Notifier.SendWeeklyReport(ctx, rt.Rollup.Days())
	}
}

func printSummary(sum *campaign.Summary) {
	p := sum.Progress
	fmt.Printf("\nCampaign %s (%s) finished: %s\n", p.Name, sum.CampaignID, p.Status)
	fmt.Printf("  companies:  %d processed of %d (ok %d, failed %d, skipped %d)\n",
		p.ProcessedCount, p.TargetCount, sum.Successful, sum.Failed, sum.Skipped)
	fmt.Printf("  prospects:  %d found\n", p.ProspectsFound)
	if p.EmailsGenerated > 0 || p.EmailsSent > 0 {
		fmt.Printf("  emails:     %d generated, %d sent\n", p.EmailsGenerated, p.EmailsSent)
	}
	fmt.Printf("  errors:     %d, success rate %.0f%%\n", p.ErrorCount, p.SuccessRate*100)
	if p.EndedAt != nil {
		fmt.Printf("  duration:   %s\n", p.EndedAt.Sub(p.StartedAt).Round(time.Second))
	}
}

func printProgress(p *domain.CampaignProgress) {
	fmt.Printf("Campaign %s (%s)\n", p.Name, p.ID)
	fmt.Printf("  status:     %s\n", p.Status)
	if p.CurrentCompany != "" {
		fmt.Printf("  working on: %s (%s)\n", p.CurrentCompany, p.CurrentStep)
	}
	fmt.Printf("  companies:  %d of %d\n", p.ProcessedCount, p.TargetCount)
	fmt.Printf("  prospects:  %d\n", p.ProspectsFound)
	fmt.Printf("  emails:     %d generated, %d sent\n", p.EmailsGenerated, p.EmailsSent)
	fmt.Printf("  errors:     %d, success rate %.0f%%\n", p.ErrorCount, p.SuccessRate*100)
	fmt.Printf("  started:    %s\n", p.StartedAt.Format(time.RFC3339))
	if p.EndedAt != nil {
		fmt.Printf("  ended:      %s\n", p.EndedAt.Format(time.RFC3339))
	}
}
