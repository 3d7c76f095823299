package session

import (
	"encoding/json"
	"errors"

	"github.com/MegaGrindStone/datachat/internal/models"
)

// Messages the controller shows on behalf of the bot.
const (
	MessageNoDataset       = "Please upload a dataset to proceed with your request."
	MessageOffTopic        = "Please enter something relevant to the dataset."
	MessagePending         = "Generating response..."
	MessageChartCaption    = "Here's your data visualization:"
	MessageTextFallback    = "Here's the analysis of your data."
	MessageInvalidChart    = "No valid visualization was generated."
	MessageUnknownServer   = "Unknown server error"
	MessageUnreadable      = "The response could not be rendered."
	MessageTransportFailed = "There was an error contacting the server."
)

// EntryForResponse turns a successful answer of the analysis service into a bot entry. An answer carrying
// a visualization becomes a chart entry, unless the specification isn't a JSON object, in which case the
// entry degrades to text.
func EntryForResponse(resp models.QueryResponse) models.ChatEntry {
	if resp.Visualization == "" {
		if resp.Description == "" {
			return models.BotText(MessageTextFallback)
		}
		return models.BotText(resp.Description)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(resp.Visualization), &doc); err != nil || doc == nil {
		return models.BotText(MessageInvalidChart)
	}

	caption := resp.Description
	if caption == "" {
		caption = MessageChartCaption
	}
	return models.BotChart(resp.Visualization, caption)
}

// EntryForError turns a failed query into a bot entry with the most specific message available.
func EntryForError(err error) models.ChatEntry {
	var apiErr *models.APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Detail != "" {
			return models.BotText(apiErr.Detail)
		}
		return models.BotText(MessageUnknownServer)
	case errors.Is(err, models.ErrMalformedResponse):
		return models.BotText(MessageUnreadable)
	default:
		return models.BotText(MessageTransportFailed)
	}
}
