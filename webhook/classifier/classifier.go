package classifier

import (
	"strings"

	"github.com/marcelsud/webhook-intake/webhook"
	"github.com/tidwall/gjson"
)

/* Classify derives an event type label from a platform payload.
 * It is total: payloads that are not valid JSON are treated as an empty
 * object, and every path that is missing or of the wrong shape yields
 * webhook.UnknownEventType.
 */
func Classify(platform webhook.Platform, payload []byte) string {
	if !gjson.ValidBytes(payload) {
		payload = []byte("{}")
	}

	var eventType string
	switch platform {
	case webhook.Instagram, webhook.Facebook:
		eventType = graph(payload)
	case webhook.TikTok:
		eventType = tiktok(payload)
	case webhook.Salesforce:
		eventType = salesforce(payload)
	case webhook.HubSpot:
		eventType = hubspot(payload)
	case webhook.Pipedrive:
		eventType = pipedrive(payload)
	}

	if eventType == "" {
		return webhook.UnknownEventType
	}
	return eventType
}

// str returns the string at path, or "" when absent or not a string
func str(payload []byte, path string) string {
	result := gjson.GetBytes(payload, path)
	if result.Type != gjson.String {
		return ""
	}
	return result.Str
}

func graph(payload []byte) string {
	switch str(payload, "entry.0.changes.0.field") {
	case "mentions":
		return "mentions"
	case "comments":
		return "comments"
	case "story_insights":
		return "stories"
	}
	return ""
}

func tiktok(payload []byte) string {
	switch str(payload, "type") {
	case "mention":
		return "mentions"
	case "comment":
		return "comments"
	case "video":
		return "videos"
	}
	return ""
}

func salesforce(payload []byte) string {
	switch str(payload, "sobject") {
	case "Lead":
		if eventType := str(payload, "event_type"); eventType != "" {
			return eventType
		}
		return "lead_updated"
	case "Contact":
		return "contact_updated"
	}
	return ""
}

func hubspot(payload []byte) string {
	if !gjson.ParseBytes(payload).IsArray() {
		return ""
	}
	switch str(payload, "0.subscriptionType") {
	case "contact.creation":
		return "contact_created"
	case "contact.propertyChange":
		return "contact_updated"
	case "deal.creation":
		return "deal_created"
	}
	return ""
}

// pipedrive accepts both the bare action ("added") and the v1 "added.person" form
func pipedrive(payload []byte) string {
	object := str(payload, "meta.object")
	event := str(payload, "event")
	switch object {
	case "person":
		if event == "added" || strings.HasPrefix(event, "added.") {
			return "person_added"
		}
		return "person_updated"
	case "deal":
		return "deal_added"
	}
	return ""
}
