package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Unisami/ProspectAI-sub000/internal/domain"
)

// Wire model for the Notion pages API. Only the property flavours the seven
// databases use are modelled; everything else in a response is ignored.

// Notion caps one rich-text element at 2000 characters, so long values
// (AI enrichment blobs, email bodies) are written as chunked arrays.
const notionTextLimit = 2000

type notionText struct {
	Content string `json:"content"`
}

type notionRichText struct {
	Type      string     `json:"type,omitempty"`
	Text      notionText `json:"text"`
	PlainText string     `json:"plain_text,omitempty"`
}

type notionSelect struct {
	Name string `json:"name"`
}

type notionDate struct {
	Start string `json:"start"`
	End   string `json:"end,omitempty"`
}

type notionProp struct {
	Title    []notionRichText `json:"title,omitempty"`
	RichText []notionRichText `json:"rich_text,omitempty"`
	Number   *float64         `json:"number,omitempty"`
	Select   *notionSelect    `json:"select,omitempty"`
	Date     *notionDate      `json:"date,omitempty"`
	Checkbox *bool            `json:"checkbox,omitempty"`
	URL      string           `json:"url,omitempty"`
	Email    string           `json:"email,omitempty"`
}

type notionPage struct {
	ID             string                `json:"id"`
	CreatedTime    time.Time             `json:"created_time"`
	LastEditedTime time.Time             `json:"last_edited_time"`
	Properties     map[string]notionProp `json:"properties"`
}

type notionParent struct {
	DatabaseID string `json:"database_id"`
}

type notionCreateRequest struct {
	Parent     notionParent          `json:"parent"`
	Properties map[string]notionProp `json:"properties"`
}

type notionUpdateRequest struct {
	Properties map[string]notionProp `json:"properties"`
}

type notionSort struct {
	Property  string `json:"property,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Direction string `json:"direction"`
}

type notionQueryRequest struct {
	Filter      interface{}  `json:"filter,omitempty"`
	Sorts       []notionSort `json:"sorts,omitempty"`
	StartCursor string       `json:"start_cursor,omitempty"`
	PageSize    int          `json:"page_size,omitempty"`
}

type notionQueryResponse struct {
	Results    []notionPage `json:"results"`
	HasMore    bool         `json:"has_more"`
	NextCursor string       `json:"next_cursor"`
}

func chunkRichText(s string) []notionRichText {
	if s == "" {
		return nil
	}
	var out []notionRichText
	r := []rune(s)
	for len(r) > 0 {
		n := min(notionTextLimit, len(r))
		out = append(out, notionRichText{Type: "text", Text: notionText{Content: string(r[:n])}})
		r = r[n:]
	}
	return out
}

func titleProp(s string) notionProp {
	return notionProp{Title: chunkRichText(s)}
}

func textProp(s string) notionProp {
	return notionProp{RichText: chunkRichText(s)}
}

func numberProp(v float64) notionProp {
	return notionProp{Number: &v}
}

func selectProp(s string) notionProp {
	return notionProp{Select: &notionSelect{Name: s}}
}

func dateProp(t time.Time) notionProp {
	return notionProp{Date: &notionDate{Start: t.UTC().Format(time.RFC3339)}}
}

func urlProp(s string) notionProp {
	return notionProp{URL: s}
}

func emailProp(s string) notionProp {
	return notionProp{Email: s}
}

// plain concatenates the text content of a title or rich_text property,
// preferring the response-side plain_text when present.
func (p notionProp) plain() string {
	var b strings.Builder
	for _, rt := range p.Title {
		b.WriteString(richTextValue(rt))
	}
	for _, rt := range p.RichText {
		b.WriteString(richTextValue(rt))
	}
	return b.String()
}

func richTextValue(rt notionRichText) string {
	if rt.PlainText != "" {
		return rt.PlainText
	}
	return rt.Text.Content
}

func (p notionProp) float() float64 {
	if p.Number == nil {
		return 0
	}
	return *p.Number
}

func (p notionProp) selectName() string {
	if p.Select == nil {
		return ""
	}
	return p.Select.Name
}

func (p notionProp) timeValue() *time.Time {
	if p.Date == nil || p.Date.Start == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339, p.Date.Start); err == nil {
		return &t
	}
	// Date-only values come back without a time component.
	if t, err := time.Parse("2006-01-02", p.Date.Start); err == nil {
		return &t
	}
	return nil
}

func filterEquals(property, kind, value string) map[string]interface{} {
	return map[string]interface{}{
		"property": property,
		kind:       map[string]interface{}{"equals": value},
	}
}

func filterEditedAfter(t time.Time) map[string]interface{} {
	return map[string]interface{}{
		"timestamp":        "last_edited_time",
		"last_edited_time": map[string]interface{}{"after": t.UTC().Format(time.RFC3339)},
	}
}

func filterCreatedAfter(t time.Time) map[string]interface{} {
	return map[string]interface{}{
		"timestamp":    "created_time",
		"created_time": map[string]interface{}{"after": t.UTC().Format(time.RFC3339)},
	}
}

func filterAnd(filters ...interface{}) interface{} {
	switch len(filters) {
	case 0:
		return nil
	case 1:
		return filters[0]
	default:
		return map[string]interface{}{"and": filters}
	}
}

func prospectProps(p *domain.Prospect) map[string]notionProp {
	props := map[string]notionProp{
		"Name":              titleProp(p.Name),
		"Dedup Key":         textProp(p.Key()),
		"Company":           textProp(p.Company),
		"Generation Status": selectProp(string(defaultGeneration(p.GenerationStatus))),
		"Delivery Status":   selectProp(string(defaultDelivery(p.DeliveryStatus))),
	}
	if p.Role != "" {
		props["Role"] = textProp(p.Role)
	}
	if p.ProfileURL != "" {
		props["Profile URL"] = urlProp(p.ProfileURL)
	}
	if p.Email != "" {
		props["Email"] = emailProp(p.Email)
		props["Email Confidence"] = numberProp(p.EmailConfidence)
	}
	if p.AIProfileJSON != "" {
		props["Profile Data"] = textProp(p.AIProfileJSON)
	}
	if p.AIProductJSON != "" {
		props["Product Data"] = textProp(p.AIProductJSON)
	}
	if p.AIBusinessJSON != "" {
		props["Business Data"] = textProp(p.AIBusinessJSON)
	}
	if p.Personalization != "" {
		props["Personalization"] = textProp(p.Personalization)
	}
	if p.EmailSubject != "" {
		props["Email Subject"] = textProp(p.EmailSubject)
	}
	if p.EmailBody != "" {
		props["Email Body"] = textProp(p.EmailBody)
	}
	if p.GeneratedAt != nil {
		props["Generated At"] = dateProp(*p.GeneratedAt)
	}
	if p.SentAt != nil {
		props["Sent At"] = dateProp(*p.SentAt)
	}
	if p.Source != "" {
		props["Source"] = textProp(p.Source)
	}
	return props
}

func prospectFromPage(page notionPage) *domain.Prospect {
	props := page.Properties
	p := &domain.Prospect{
		ID:              page.ID,
		Name:            props["Name"].plain(),
		Role:            props["Role"].plain(),
		Company:         props["Company"].plain(),
		ProfileURL:      props["Profile URL"].URL,
		Email:           props["Email"].Email,
		EmailConfidence: props["Email Confidence"].float(),
		AIProfileJSON:   props["Profile Data"].plain(),
		AIProductJSON:   props["Product Data"].plain(),
		AIBusinessJSON:  props["Business Data"].plain(),
		Personalization: props["Personalization"].plain(),
		EmailSubject:    props["Email Subject"].plain(),
		EmailBody:       props["Email Body"].plain(),
		GenerationStatus: domain.GenerationStatus(
			props["Generation Status"].selectName()),
		DeliveryStatus: domain.DeliveryStatus(
			props["Delivery Status"].selectName()),
		GeneratedAt: props["Generated At"].timeValue(),
		SentAt:      props["Sent At"].timeValue(),
		Source:      props["Source"].plain(),
		CreatedAt:   page.CreatedTime,
		UpdatedAt:   page.LastEditedTime,
	}
	p.GenerationStatus = defaultGeneration(p.GenerationStatus)
	p.DeliveryStatus = defaultDelivery(p.DeliveryStatus)
	return p
}

func campaignProps(c *domain.CampaignProgress) map[string]notionProp {
	props := map[string]notionProp{
		"Name":             titleProp(c.Name),
		"Campaign ID":      textProp(c.ID),
		"Status":           selectProp(string(c.Status)),
		"Started At":       dateProp(c.StartedAt),
		"Target":           numberProp(float64(c.TargetCount)),
		"Processed":        numberProp(float64(c.ProcessedCount)),
		"Prospects Found":  numberProp(float64(c.ProspectsFound)),
		"Emails Generated": numberProp(float64(c.EmailsGenerated)),
		"Emails Sent":      numberProp(float64(c.EmailsSent)),
		"Success Rate":     numberProp(c.SuccessRate),
		"Errors":           numberProp(float64(c.ErrorCount)),
	}
	if c.EndedAt != nil {
		props["Ended At"] = dateProp(*c.EndedAt)
	}
	if c.CurrentStep != "" {
		props["Current Step"] = textProp(c.CurrentStep)
	}
	if c.CurrentCompany != "" {
		props["Current Company"] = textProp(c.CurrentCompany)
	}
	return props
}

func campaignFromPage(page notionPage) *domain.CampaignProgress {
	props := page.Properties
	c := &domain.CampaignProgress{
		ID:              props["Campaign ID"].plain(),
		Name:            props["Name"].plain(),
		Status:          domain.CampaignStatus(props["Status"].selectName()),
		TargetCount:     int(props["Target"].float()),
		ProcessedCount:  int(props["Processed"].float()),
		ProspectsFound:  int(props["Prospects Found"].float()),
		EmailsGenerated: int(props["Emails Generated"].float()),
		EmailsSent:      int(props["Emails Sent"].float()),
		SuccessRate:     props["Success Rate"].float(),
		CurrentStep:     props["Current Step"].plain(),
		CurrentCompany:  props["Current Company"].plain(),
		ErrorCount:      int(props["Errors"].float()),
	}
	if t := props["Started At"].timeValue(); t != nil {
		c.StartedAt = *t
	}
	c.EndedAt = props["Ended At"].timeValue()
	return c
}

func logProps(e *domain.ProcessingLogEntry) map[string]notionProp {
	props := map[string]notionProp{
		"Company":   titleProp(e.Company),
		"Campaign":  textProp(e.Campaign),
		"Step":      selectProp(e.Step),
		"Outcome":   selectProp(string(e.Outcome)),
		"Duration":  numberProp(e.Duration),
		"Timestamp": dateProp(e.Timestamp),
	}
	if e.Details != "" {
		props["Details"] = textProp(e.Details)
	}
	if e.Error != "" {
		props["Error"] = textProp(e.Error)
	}
	if e.ProspectsFoundDelta != 0 {
		props["Prospects Delta"] = numberProp(float64(e.ProspectsFoundDelta))
	}
	if e.EmailsFoundDelta != 0 {
		props["Emails Delta"] = numberProp(float64(e.EmailsFoundDelta))
	}
	return props
}

func statusProps(s *domain.SystemStatus) map[string]notionProp {
	props := map[string]notionProp{
		"Component":   titleProp(s.Component),
		"Status":      selectProp(string(s.Status)),
		"Last Update": dateProp(s.LastUpdate),
		"Quota Used":  numberProp(s.QuotaUsed),
		"Errors 24h":  numberProp(float64(s.ErrorCount24h)),
		"Success 24h": numberProp(s.SuccessRate24h),
	}
	if s.Details != "" {
		props["Details"] = textProp(s.Details)
	}
	return props
}

func controlProps(c *domain.ControlCommand) map[string]notionProp {
	props := map[string]notionProp{
		"Campaign": titleProp(c.CampaignID),
		"Action":   selectProp(string(c.Action)),
	}
	if len(c.Parameters) > 0 {
		if data, err := json.Marshal(c.Parameters); err == nil {
			props["Parameters"] = textProp(string(data))
		}
	}
	if c.RequestedBy != "" {
		props["Requested By"] = textProp(c.RequestedBy)
	}
	return props
}

func controlFromPage(page notionPage) domain.ControlCommand {
	props := page.Properties
	return domain.ControlCommand{
		CampaignID:  props["Campaign"].plain(),
		Action:      domain.ControlAction(props["Action"].selectName()),
		Parameters:  parseControlParameters(props["Parameters"].plain()),
		RequestedBy: props["Requested By"].plain(),
		SeenAt:      page.CreatedTime,
	}
}

// parseControlParameters decodes the JSON object an operator typed into the
// Parameters column. Anything unparseable means "no parameters": the action
// itself still applies.
func parseControlParameters(s string) map[string]string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func analyticsProps(d *domain.DailyAnalytics) map[string]notionProp {
	return map[string]notionProp{
		"Date":             titleProp(d.Date),
		"Campaigns":        numberProp(float64(d.CampaignsRun)),
		"Companies":        numberProp(float64(d.CompaniesProcessed)),
		"Prospects":        numberProp(float64(d.ProspectsFound)),
		"Emails Found":     numberProp(float64(d.EmailsFound)),
		"Emails Generated": numberProp(float64(d.EmailsGenerated)),
		"Emails Sent":      numberProp(float64(d.EmailsSent)),
		"Errors":           numberProp(float64(d.ErrorCount)),
		"Success Rate":     numberProp(d.SuccessRate),
		"API Calls":        numberProp(float64(d.APICallEstimate)),
	}
}

// queueProps shapes one review row for the email-queue dashboard table.
func queueProps(p *domain.Prospect) map[string]notionProp {
	props := map[string]notionProp{
		"Prospect":  titleProp(p.Name),
		"Company":   textProp(p.Company),
		"Subject":   textProp(p.EmailSubject),
		"Body":      textProp(p.EmailBody),
		"Status":    selectProp("Pending Review"),
		"Queued At": dateProp(time.Now()),
	}
	if p.Email != "" {
		props["Email"] = emailProp(p.Email)
	}
	return props
}
