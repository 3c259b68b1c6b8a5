package ai

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Unisami/ProspectAI-sub000/internal/domain"
)

// maxInputChars bounds how much scraped page content goes into a prompt so
// oversized pages cannot blow the context window.
const maxInputChars = 16000

const profileSystemPrompt = `You extract structured data from professional profile pages. Respond with a single JSON object of this shape:
{"name": string, "current_role": string, "experience": [string], "skills": [string], "summary": string}
Use an empty string or empty array for anything the page does not show. Do not invent facts.`

func profileUserPrompt(rawHTML string) string {
	return "Extract the profile from this page content:\n\n" + clip(rawHTML, maxInputChars)
}

const productSystemPrompt = `You analyze product pages for a sales-research tool. Respond with a single JSON object of this shape:
{"name": string, "category": string, "description": string, "features": [string], "pricing": {"model": string, "tiers": [string]}, "market_analysis": {"target_market": string, "competitors": [string]}, "business_metrics": {"funding_stage": string, "team_size": string, "founded_year": number}}
List at most five features. Leave anything the text does not support empty. Do not invent facts.`

func productUserPrompt(text string) string {
	return "Analyze this product:\n\n" + clip(text, maxInputChars)
}

const emailSystemPrompt = `You write short, personalized outreach emails on behalf of the sender described below. Respond with a single JSON object:
{"subject": string, "body": string, "personalization_score": number}
personalization_score rates from 0 to 1 how specifically the body references this recipient and their company. The body is plain text, no HTML, no placeholders like [Name], and it signs off with the sender's first name. Never invent facts about the recipient.`

var templateAngles = map[domain.EmailTemplate]string{
	domain.TemplateColdOutreach:    "a first introduction; lead with why their company caught the sender's attention",
	domain.TemplateReferral:        "a warm note written as if a mutual contact suggested reaching out",
	domain.TemplateProductInterest: "an email that opens with a specific, genuine reaction to their product before introducing the sender",
	domain.TemplateNetworking:      "a low-stakes request for a short conversation, with no job ask",
	domain.TemplateFollowUp:        "a brief follow-up referencing an earlier message that got no reply",
}

func emailUserPrompt(in GenerateEmailInput, template domain.EmailTemplate, maxWords int, enhanced bool) string {
	p := in.Prospect

	var b strings.Builder
	fmt.Fprintf(&b, "Write %s.\n\n", templateAngles[template])
	fmt.Fprintf(&b, "Recipient: %s, %s at %s.\n", p.Name, p.Role, p.Company)

	if in.Profile != nil {
		if in.Profile.Summary != "" {
			fmt.Fprintf(&b, "About them: %s\n", in.Profile.Summary)
		}
		if len(in.Profile.Skills) > 0 {
			fmt.Fprintf(&b, "Their skills: %s.\n", strings.Join(in.Profile.Skills, ", "))
		}
		if enhanced && len(in.Profile.Experience) > 0 {
			fmt.Fprintf(&b, "Their experience: %s.\n", strings.Join(in.Profile.Experience, "; "))
		}
	}

	if in.Product != nil {
		fmt.Fprintf(&b, "Their product: %s", in.Product.Name)
		if in.Product.Category != "" {
			fmt.Fprintf(&b, " (%s)", in.Product.Category)
		}
		if in.Product.Description != "" {
			fmt.Fprintf(&b, " - %s", in.Product.Description)
		}
		b.WriteString("\n")
		if enhanced && len(in.Product.Features) > 0 {
			fmt.Fprintf(&b, "Product features: %s.\n", strings.Join(in.Product.Features, ", "))
		}
	}

	if in.Sender != nil {
		fmt.Fprintf(&b, "\nSender: %s, %s.\n", in.Sender.Name, in.Sender.CurrentRole)
		if in.Sender.ValueProposition != "" {
			fmt.Fprintf(&b, "Sender's pitch: %s\n", in.Sender.ValueProposition)
		}
		if len(in.Sender.KeySkills) > 0 {
			fmt.Fprintf(&b, "Sender's skills: %s.\n", strings.Join(in.Sender.KeySkills, ", "))
		}
	}

	if in.Extra != "" {
		fmt.Fprintf(&b, "\nAdditional context: %s\n", in.Extra)
	}

	fmt.Fprintf(&b, "\nKeep the body under %d words.", maxWords)
	if enhanced {
		b.WriteString(" Reference at least one specific detail about their product or background.")
	}
	return b.String()
}

// clip truncates s to at most n bytes on a rune boundary.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
