package gemini

import (
	"encoding/base64"
	"strings"

	"google.golang.org/genai"

	"github.com/room4-2/ReminderRelay/realtime"
)

// translate maps one Live server message onto realtime server events.
// It tracks whether a model turn is underway so the relay sees the same
// created/delta/done lifecycle the default upstream produces.
func (gp *Proxy) translate(resp *genai.LiveServerMessage) []*realtime.ServerEvent {
	if resp == nil || resp.ServerContent == nil {
		return nil
	}
	content := resp.ServerContent

	var events []*realtime.ServerEvent

	// Gemini has already stopped generating when it reports an interruption
	if content.Interrupted {
		events = append(events, &realtime.ServerEvent{Type: realtime.TypeSpeechStarted})
		if gp.responding {
			gp.responding = false
			events = append(events, &realtime.ServerEvent{Type: realtime.TypeResponseCancelled})
		}
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil {
				continue
			}
			if part.InlineData != nil && strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
				events = gp.begin(events)
				events = append(events, &realtime.ServerEvent{
					Type:  realtime.TypeResponseAudioDelta,
					Delta: base64.StdEncoding.EncodeToString(part.InlineData.Data),
				})
			}
			if part.Text != "" && !part.Thought {
				events = gp.begin(events)
				events = append(events, &realtime.ServerEvent{
					Type:  realtime.TypeTranscriptDelta,
					Delta: part.Text,
				})
			}
		}
	}

	if content.OutputTranscription != nil && content.OutputTranscription.Text != "" {
		events = gp.begin(events)
		events = append(events, &realtime.ServerEvent{
			Type:  realtime.TypeTranscriptDelta,
			Delta: content.OutputTranscription.Text,
		})
	}

	if content.TurnComplete && gp.responding {
		gp.responding = false
		events = append(events, &realtime.ServerEvent{Type: realtime.TypeResponseDone})
	}

	return events
}

// begin opens a response on the first model output of a turn.
func (gp *Proxy) begin(events []*realtime.ServerEvent) []*realtime.ServerEvent {
	if gp.responding {
		return events
	}
	gp.responding = true
	return append(events, &realtime.ServerEvent{Type: realtime.TypeResponseCreated})
}
