package report

import (
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// Card constants for the Google Chat message.
const (
	CardID    = "delivery_plan_today"
	LogoURL   = "https://www.microlise.com/wp-content/uploads/2021/02/Microlise_Logo_Colour_RGB-1.png"
	ImageType = "SQUARE"
)

// Message is a Google Chat cardsV2 message.
type Message struct {
	CardsV2 []CardEntry `json:"cardsV2"`
}

type CardEntry struct {
	CardID string `json:"cardId"`
	Card   Card   `json:"card"`
}

type Card struct {
	Header   Header    `json:"header"`
	Sections []Section `json:"sections"`
}

type Header struct {
	Title     string `json:"title"`
	Subtitle  string `json:"subtitle"`
	ImageURL  string `json:"imageUrl"`
	ImageType string `json:"imageType"`
}

type Section struct {
	Widgets []Widget `json:"widgets"`
}

type Widget struct {
	TextParagraph *TextParagraph `json:"textParagraph,omitempty"`
}

type TextParagraph struct {
	Text string `json:"text"`
}

var strict = bluemonday.StrictPolicy()

// NewMessage wraps the summary for site in a single card. Chat renders a
// subset of HTML, so scraped text is stripped of markup first.
func NewMessage(site string, s Summary, now time.Time) Message {
	return Message{CardsV2: []CardEntry{{
		CardID: CardID,
		Card: Card{
			Header: Header{
				Title:     "Today's Delivery Plan for Store " + site,
				Subtitle:  "Generated on " + now.Format("2006-01-02 15:04:05"),
				ImageURL:  LogoURL,
				ImageType: ImageType,
			},
			Sections: []Section{{
				Widgets: []Widget{{TextParagraph: &TextParagraph{Text: strict.Sanitize(s.Text())}}},
			}},
		},
	}}}
}

// Text returns the body of the first card, or "".
func (m Message) Text() string {
	for _, e := range m.CardsV2 {
		for _, sec := range e.Card.Sections {
			for _, w := range sec.Widgets {
				if w.TextParagraph != nil {
					return w.TextParagraph.Text
				}
			}
		}
	}
	return ""
}
