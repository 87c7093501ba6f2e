package llm

import (
	"fmt"
	"strings"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

const jsonContract = "Respond with a single JSON object using exactly the keys listed below and nothing else."

func researchPrompt(mode models.TenantMode, htmlEmails []string) string {
	hint := ""
	if len(htmlEmails) > 0 {
		hint = fmt.Sprintf("These addresses were found in the page HTML and are facts: %s. Include them in contact_emails. ",
			strings.Join(htmlEmails, ", "))
	}

	var b strings.Builder
	if mode == models.TenantModeJobHunt {
		b.WriteString("You are an IT job-market analyst assessing a company as a potential EMPLOYER from raw website content.\n\n")
		b.WriteString("Priorities:\n")
		fmt.Fprintf(&b, "1. EMAIL: %sLook for HR or recruiting addresses (careers@, jobs@) or addresses of the CTO and team leads.\n", hint)
		b.WriteString("2. TECH STACK: technologies visible in job ads or project descriptions.\n")
		b.WriteString("3. HIRING: whether they have a careers page and who they are hiring.\n")
		b.WriteString("4. DECISION MAKERS: CTO, Head of Engineering, HR Manager, Founder.\n")
		b.WriteString("Collect hooks for a cover letter and signals about the company culture.\n")
	} else {
		b.WriteString("You are a B2B analyst reading raw HTML and markdown from several pages of one company.\n\n")
		b.WriteString("Tasks:\n")
		fmt.Fprintf(&b, "1. EMAIL: %sLook in the contact section and the footer.\n", hint)
		b.WriteString("2. Tech stack and hiring, as growth signals.\n")
		b.WriteString("3. An icebreaker for a sales conversation.\n")
		b.WriteString("Email priority: named person, then office or hello or contact, then sales. ")
		b.WriteString("Ignore example domains, webmasters and image names.\n")
	}

	b.WriteString("\n" + jsonContract + "\n")
	b.WriteString("Keys: company_name, summary (max two sentences), target_audience, key_products, tech_stack, ")
	b.WriteString("decision_makers (\"Full Name (Role)\", team members only), contact_emails, hiring_signals, ")
	b.WriteString("icebreaker, pain_points_or_opportunities.")
	return b.String()
}

func stepGoal(mode models.TenantMode, step int, company models.Company) string {
	switch step {
	case 1:
		if mode == models.TenantModeJobHunt {
			return fmt.Sprintf("FIRST CONTACT (application). Goal: show you fit their team and ask for a short call. "+
				"Max 150 words. Refer to their stack (%s).", strings.Join(company.TechStack, ", "))
		}
		return fmt.Sprintf("FIRST CONTACT (cold email). Goal: spark interest and invite a conversation. "+
			"Max 120 words. Use what we know about their stack (%s).", strings.Join(company.TechStack, ", "))
	case 2:
		return "FOLLOW-UP. Sent about three days after the first email, which got no answer. " +
			"Goal: a gentle nudge asking whether they saw the previous message. Very short and casual, max 50 words. " +
			"Do not repeat the whole offer, just refer to it."
	case 3:
		return "LAST MESSAGE (break-up). Goal: let them go politely while leaving the door open. " +
			"Something like: you seem busy so I will not keep writing, my calendar stays open. Max 60 words."
	default:
		return "Write a standard business email."
	}
}

func writerPrompt(req WriteRequest) string {
	t := req.Tenant
	signature := t.SenderDisplayName()
	recipient := req.DecisionMaker
	if recipient == "" {
		recipient = "the team"
	}
	company := req.Company.Name
	if company == "" {
		company = req.Company.Domain
	}

	var b strings.Builder
	role := "a B2B copywriter"
	if t.Mode == models.TenantModeJobHunt {
		role = "a candidate writing to a prospective employer"
	}
	fmt.Fprintf(&b, "You are %s writing on behalf of %s.\n\n", role, signature)
	fmt.Fprintf(&b, "SEQUENCE STEP %d\n%s\n\n", req.Step, stepGoal(t.Mode, req.Step, req.Company))
	fmt.Fprintf(&b, "RECIPIENT: %s (stack: %s)\n", company, strings.Join(req.Company.TechStack, ", "))
	fmt.Fprintf(&b, "DECISION MAKER: %s\n", recipient)
	if req.Analysis != "" {
		fmt.Fprintf(&b, "RESEARCH NOTES:\n%s\n", req.Analysis)
	}

	p := t.Profile
	b.WriteString("\nSENDER CONTEXT:\n")
	fmt.Fprintf(&b, "- Industry: %s\n- Value proposition: %s\n- Ideal customer: %s\n", p.Industry, p.ValueProposition, p.IdealCustomerProfile)
	if p.CaseStudies != "" {
		fmt.Fprintf(&b, "- Case studies: %s\n", p.CaseStudies)
	}
	if p.ToneOfVoice != "" {
		fmt.Fprintf(&b, "- Tone of voice: %s\n", p.ToneOfVoice)
	}
	if p.NegativeConstraints != "" {
		fmt.Fprintf(&b, "- Never: %s\n", p.NegativeConstraints)
	}

	b.WriteString("\nRULES:\n1. Be natural. No corporate jargon.\n")
	fmt.Fprintf(&b, "2. Sign as: %s\n", signature)
	b.WriteString("3. The body is HTML using <p>, <b> and <br> only.\n\n")
	b.WriteString(jsonContract + "\nKeys: subject (5 to 7 words), body, rationale.")
	return b.String()
}

func auditPrompt(draft EmailDraft, company models.Company) string {
	var b strings.Builder
	b.WriteString("You are a fact auditor. Check whether the copywriter invented anything.\n\n")
	b.WriteString("FACTS ABOUT THE COMPANY:\n")
	fmt.Fprintf(&b, "- Name: %s\n- Stack: %s\n- Pain points: %s\n\n",
		company.Name, strings.Join(company.TechStack, ", "), strings.Join(company.PainPoints, "; "))
	fmt.Fprintf(&b, "DRAFT:\nSubject: %s\nBody: %s\n\n", draft.Subject, draft.Body)
	b.WriteString("AUDIT RULES:\n")
	b.WriteString("1. Does the email mention a technology that is NOT in the stack list?\n")
	b.WriteString("2. Does it promise something impossible?\n")
	b.WriteString("3. Is it offensive?\n")
	b.WriteString("Any of these means passed=false.\n\n")
	b.WriteString(jsonContract + "\nKeys: passed (boolean), feedback (\"OK\" when passed), hallucinations_detected (list).")
	return b.String()
}

func replyPrompt(tenant models.Tenant) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You triage replies to outreach sent on behalf of %s.\n", tenant.SenderDisplayName())
	if tenant.Mode == models.TenantModeJobHunt {
		b.WriteString("The outreach was a job application. Interest means an invitation to talk or interview.\n")
	} else {
		b.WriteString("The outreach was a sales email. Interest means willingness to talk or to buy.\n")
	}
	b.WriteString("\n" + jsonContract + "\n")
	b.WriteString("Keys: is_interested (boolean), sentiment (POSITIVE, NEGATIVE or NEUTRAL), ")
	b.WriteString("summary (one sentence), suggested_action (what a human should do next).")
	return b.String()
}

func strategyPrompt(tenant models.Tenant, campaign models.Campaign, used []string) string {
	history := "NONE (first run)"
	if len(used) > 0 {
		history = strings.Join(used, ", ")
	}

	p := tenant.Profile
	var b strings.Builder
	b.WriteString("You are a B2B strategy and OSINT expert. Generate Google Maps queries that find companies we do NOT have yet.\n\n")
	b.WriteString("CLIENT:\n")
	fmt.Fprintf(&b, "- Name: %s\n- Industry: %s\n- Offer: %s\n- Looking for: %s\n\n",
		tenant.Name, p.Industry, p.ValueProposition, p.IdealCustomerProfile)
	fmt.Fprintf(&b, "CAMPAIGN GOAL: %s\n", campaign.StrategyPrompt)
	if campaign.TargetRegion != "" {
		fmt.Fprintf(&b, "TARGET REGION: %s\n", campaign.TargetRegion)
	}
	fmt.Fprintf(&b, "\nALREADY USED QUERIES (do not reuse): [%s]\n\n", history)
	b.WriteString("TACTICS:\n")
	b.WriteString("1. Avoid duplicates from the history.\n")
	b.WriteString("2. If a city was used, move to its districts or satellite towns.\n")
	b.WriteString("3. If an industry term was used, switch to synonyms or niches.\n")
	b.WriteString("4. Format: \"[Business type] [Location]\".\n")
	b.WriteString("Generate 5 to 8 new, precise queries.\n\n")
	b.WriteString(jsonContract + "\nKeys: thinking_process, search_queries (list), target_locations (list).")
	return b.String()
}
