package classifier

import (
	"testing"

	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		platform webhook.Platform
		payload  string
		want     string
	}{
		{"instagram mentions", webhook.Instagram, `{"entry":[{"changes":[{"field":"mentions"}]}]}`, "mentions"},
		{"instagram comments", webhook.Instagram, `{"entry":[{"changes":[{"field":"comments"}]}]}`, "comments"},
		{"instagram story insights", webhook.Instagram, `{"entry":[{"changes":[{"field":"story_insights"}]}]}`, "stories"},
		{"instagram other field", webhook.Instagram, `{"entry":[{"changes":[{"field":"live_comments"}]}]}`, "unknown"},
		{"instagram empty entry", webhook.Instagram, `{"entry":[]}`, "unknown"},
		{"instagram entry is not a list", webhook.Instagram, `{"entry":"mentions"}`, "unknown"},
		{"facebook follows graph rules", webhook.Facebook, `{"entry":[{"changes":[{"field":"comments"}]}]}`, "comments"},
		{"tiktok mention", webhook.TikTok, `{"type":"mention"}`, "mentions"},
		{"tiktok comment", webhook.TikTok, `{"type":"comment"}`, "comments"},
		{"tiktok video", webhook.TikTok, `{"type":"video"}`, "videos"},
		{"tiktok numeric type", webhook.TikTok, `{"type":5}`, "unknown"},
		{"salesforce lead with event type", webhook.Salesforce, `{"sobject":"Lead","event_type":"lead_converted"}`, "lead_converted"},
		{"salesforce lead without event type", webhook.Salesforce, `{"sobject":"Lead"}`, "lead_updated"},
		{"salesforce contact", webhook.Salesforce, `{"sobject":"Contact"}`, "contact_updated"},
		{"salesforce account", webhook.Salesforce, `{"sobject":"Account"}`, "unknown"},
		{"hubspot contact created", webhook.HubSpot, `[{"subscriptionType":"contact.creation"}]`, "contact_created"},
		{"hubspot contact updated", webhook.HubSpot, `[{"subscriptionType":"contact.propertyChange"}]`, "contact_updated"},
		{"hubspot deal created", webhook.HubSpot, `[{"subscriptionType":"deal.creation"}]`, "deal_created"},
		{"hubspot object instead of list", webhook.HubSpot, `{"subscriptionType":"deal.creation"}`, "unknown"},
		{"hubspot empty list", webhook.HubSpot, `[]`, "unknown"},
		{"pipedrive person added", webhook.Pipedrive, `{"meta":{"object":"person"},"event":"added"}`, "person_added"},
		{"pipedrive person added v1 event", webhook.Pipedrive, `{"meta":{"object":"person"},"event":"added.person"}`, "person_added"},
		{"pipedrive person updated", webhook.Pipedrive, `{"meta":{"object":"person"},"event":"updated"}`, "person_updated"},
		{"pipedrive deal", webhook.Pipedrive, `{"meta":{"object":"deal"},"event":"added"}`, "deal_added"},
		{"pipedrive missing meta", webhook.Pipedrive, `{"event":"added"}`, "unknown"},
		{"unsupported platform", webhook.Platform("linkedin"), `{"type":"mention"}`, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.platform, []byte(tt.payload)))
		})
	}
}

func TestClassify_Garbage(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		[]byte("not json"),
		[]byte(`{"type":"mention"`),
		[]byte(`[[[[[[`),
		[]byte{0xff, 0xfe, 0x00},
		[]byte(`null`),
		[]byte(`"mention"`),
	}
	platforms := []webhook.Platform{
		webhook.Instagram, webhook.Facebook, webhook.TikTok,
		webhook.Salesforce, webhook.HubSpot, webhook.Pipedrive,
	}

	for _, platform := range platforms {
		for _, input := range inputs {
			assert.NotPanics(t, func() {
				assert.Equal(t, webhook.UnknownEventType, Classify(platform, input))
			})
		}
	}
}
