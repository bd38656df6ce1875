package sink

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leadscout/internal/model"
	"github.com/sells-group/leadscout/pkg/notion"
)

// NotionSink mirrors finalized leads into a Notion database for the
// sales team. Mirror failures must not fail the pipeline; wrap it in
// BestEffort when combining with the store sink.
type NotionSink struct {
	client notion.Client
	leadDB string
}

// NewNotionSink creates a sink writing to the given Notion database.
func NewNotionSink(client notion.Client, leadDB string) *NotionSink {
	return &NotionSink{client: client, leadDB: leadDB}
}

func (s *NotionSink) Emit(ctx context.Context, lead model.LeadRecord) error {
	req := &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(s.leadDB),
		},
		Properties: notionapi.Properties{
			"Name": notionapi.TitleProperty{
				Title: richText(lead.Extracted.Target.Candidate.Name),
			},
			"Website": notionapi.URLProperty{
				URL: lead.SourceURL,
			},
			"Industry": notionapi.RichTextProperty{
				RichText: richText(lead.Enriched.Industry),
			},
			"Summary": notionapi.RichTextProperty{
				RichText: richText(lead.Enriched.Summary),
			},
			"Score": notionapi.NumberProperty{
				Number: float64(lead.Enriched.Score),
			},
		},
	}

	if email := firstString(lead.Extracted.Emails); email != "" {
		req.Properties["Email"] = notionapi.EmailProperty{Email: email}
	}
	if phone := firstString(lead.Extracted.Phones); phone != "" {
		req.Properties["Phone"] = notionapi.PhoneNumberProperty{PhoneNumber: phone}
	}
	if len(lead.Enriched.Signals) > 0 {
		req.Properties["Signals"] = notionapi.RichTextProperty{
			RichText: richText(strings.Join(lead.Enriched.Signals, ", ")),
		}
	}

	if _, err := s.client.CreatePage(ctx, req); err != nil {
		return eris.Wrap(err, "sink: notion mirror")
	}
	return nil
}

func richText(text string) []notionapi.RichText {
	// Notion rejects rich_text fragments over 2000 chars.
	if len(text) > 2000 {
		text = text[:2000]
	}
	return []notionapi.RichText{{
		Type: notionapi.ObjectTypeText,
		Text: &notionapi.Text{Content: text},
	}}
}

func firstString(xs []string) string {
	if len(xs) == 0 {
		return ""
	}
	return xs[0]
}
