package campaign

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/Unisami/ProspectAI-sub000/internal/ai"
	"github.com/Unisami/ProspectAI-sub000/internal/domain"
	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/logger"
	"github.com/Unisami/ProspectAI-sub000/internal/store"
)

// ProcessCompany runs the pipeline for one explicitly named company,
// bypassing the feed and the dedup stage so a re-run always reprocesses.
func (o *Orchestrator) ProcessCompany(ctx context.Context, company domain.Company, req Request) (*Summary, error) {
	if company.Name == "" {
		return nil, errkind.Newf(errkind.Config, "campaign", "process_company", "company name is required")
	}
	req.Companies = []domain.Company{company}
	req.Limit = 1
	req.Forced = true
	if req.Name == "" {
		req.Name = "company-" + domain.NormalizeName(company.Name)
	}
	return o.Run(ctx, req)
}

// GenerateRecent drafts outreach for the most recently stored prospects
// that have no draft yet and returns how many drafts were written.
func (o *Orchestrator) GenerateRecent(ctx context.Context, limit int, tmpl domain.EmailTemplate) (int, error) {
	if o.deps.AI == nil {
		return 0, errkind.Newf(errkind.Config, "campaign", "generate_emails", "AI is not configured")
	}
	prospects, err := o.deps.Store.FindProspects(ctx, store.Filter{
		GenerationStatus: domain.GenerationNotGenerated,
		Limit:            limit,
	})
	if err != nil {
		return 0, err
	}
	return o.generateDrafts(ctx, prospects, tmpl)
}

// GenerateFor drafts outreach for specific prospect ids. Unknown ids are
// reported and skipped rather than failing the batch.
func (o *Orchestrator) GenerateFor(ctx context.Context, ids []string, tmpl domain.EmailTemplate) (int, error) {
	if o.deps.AI == nil {
		return 0, errkind.Newf(errkind.Config, "campaign", "generate_emails", "AI is not configured")
	}
	all, err := o.deps.Store.FindProspects(ctx, store.Filter{})
	if err != nil {
		return 0, err
	}
	byID := make(map[string]*domain.Prospect, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}
	picked := make([]*domain.Prospect, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			log.Printf("[Orchestrator] prospect %s not found, skipping", id)
			continue
		}
		picked = append(picked, p)
	}
	return o.generateDrafts(ctx, picked, tmpl)
}

func (o *Orchestrator) generateDrafts(ctx context.Context, prospects []*domain.Prospect, tmpl domain.EmailTemplate) (int, error) {
	generated := 0
	for _, p := range prospects {
		if ctx.Err() != nil {
			return generated, errkind.New(errkind.Cancelled, "campaign", "generate_emails", ctx.Err())
		}
		res, err := o.deps.AI.GenerateEmail(ctx, ai.GenerateEmailInput{
			Prospect: p,
			Template: tmpl,
			Profile:  decodeProfile(p.AIProfileJSON),
			Product:  decodeProduct(p.AIProductJSON),
			Sender:   o.deps.Profile,
		})
		switch {
		case err == nil:
		case errkind.Of(err) == errkind.Cancelled:
			return generated, err
		case errkind.Of(err) == errkind.LowPersonalization && res.Draft != nil:
			log.Printf("[Orchestrator] draft for %q kept below the personalization floor: %v", p.Name, err)
		default:
			log.Printf("[Orchestrator] draft failed for %q: %v", p.Name, err)
			st := domain.GenerationFailed
			if werr := o.deps.Store.UpdateProspectFields(ctx, p.ID, store.ProspectPatch{GenerationStatus: &st}); werr != nil {
				log.Printf("[Orchestrator] marking %q failed: %v", p.Name, werr)
			}
			continue
		}

		now := time.Now().UTC()
		st := domain.GenerationGenerated
		if err := o.deps.Store.UpdateProspectFields(ctx, p.ID, store.ProspectPatch{
			EmailSubject:     store.Ptr(res.Draft.Subject),
			EmailBody:        store.Ptr(res.Draft.Body),
			GenerationStatus: &st,
			GeneratedAt:      &now,
		}); err != nil {
			log.Printf("[Orchestrator] saving draft for %q failed: %v", p.Name, err)
			continue
		}
		generated++
	}
	log.Printf("[Orchestrator] generated %d/%d drafts", generated, len(prospects))
	return generated, nil
}

// SendRecent delivers already-generated drafts, most recently updated
// first, and returns how many were sent.
func (o *Orchestrator) SendRecent(ctx context.Context, limit int) (int, error) {
	if o.deps.Sender == nil {
		return 0, errkind.Newf(errkind.Config, "campaign", "send_emails", "email sending is not configured")
	}
	prospects, err := o.deps.Store.FindProspects(ctx, store.Filter{
		GenerationStatus: domain.GenerationGenerated,
		Limit:            limit,
	})
	if err != nil {
		return 0, err
	}
	if len(prospects) == 0 {
		log.Printf("[Orchestrator] no generated drafts waiting to send")
		return 0, nil
	}

	batchID := "manual-send-" + time.Now().UTC().Format("20060102-150405")
	outcomes, sendErr := o.deps.Sender.SendProspects(ctx, batchID, prospects)
	sent := 0
	for _, oc := range outcomes {
		switch {
		case oc.Skipped:
			log.Printf("[Orchestrator] send skipped for %s: %s", logger.RedactEmail(oc.Email), oc.Reason)
		case oc.Result == nil || !oc.Result.Success:
			ds := domain.DeliveryFailed
			if werr := o.deps.Store.UpdateProspectFields(ctx, oc.ProspectID, store.ProspectPatch{DeliveryStatus: &ds}); werr != nil {
				log.Printf("[Orchestrator] marking delivery failed for %s: %v", logger.RedactEmail(oc.Email), werr)
			}
		default:
			sentAt := oc.Result.SentAt
			if sentAt.IsZero() {
				sentAt = time.Now().UTC()
			}
			gs := domain.GenerationSent
			ds := domain.DeliverySent
			if werr := o.deps.Store.UpdateProspectFields(ctx, oc.ProspectID, store.ProspectPatch{
				GenerationStatus: &gs,
				DeliveryStatus:   &ds,
				SentAt:           &sentAt,
			}); werr != nil {
				log.Printf("[Orchestrator] recording delivery for %s: %v", logger.RedactEmail(oc.Email), werr)
				continue
			}
			sent++
		}
	}
	log.Printf("[Orchestrator] sent %d/%d drafts", sent, len(prospects))
	return sent, sendErr
}

func decodeProfile(raw string) *domain.LinkedInProfile {
	if raw == "" {
		return nil
	}
	var p domain.LinkedInProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil
	}
	return &p
}

func decodeProduct(raw string) *domain.ProductAnalysis {
	if raw == "" {
		return nil
	}
	var a domain.ProductAnalysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil
	}
	return &a
}
