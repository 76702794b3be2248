package vast

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Parse walks the VAST XML token stream and builds an AdDocument. It never
// fails: malformed input yields a partially- or fully-empty document, and the
// absence of a playable media rendition is the error signal. Unrecognized
// elements are skipped for forward compatibility.
func Parse(data []byte) *AdDocument {
	p := &parser{
		doc: &AdDocument{
			TrackingEvents:             make(map[string]string),
			VerificationTrackingEvents: make(map[string]string),
		},
	}
	p.run(data)
	return p.doc
}

type parser struct {
	doc *AdDocument

	// Character data accumulates across fragments; SAX-style decoders may
	// split text and CDATA into multiple deliveries.
	text strings.Builder

	// MediaFile blocks keep their own URL buffer so a nested
	// ClosedCaptionFile cannot clobber the rendition URL.
	inMediaFile  bool
	mediaURL     strings.Builder
	pendingMedia MediaRendition

	// Verification blocks route Tracking into the verification-scoped map.
	inVerification bool

	pendingEvent   string // event attribute of the open Tracking element
	pendingPricing Pricing
}

func (p *parser) run(data []byte) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			// Includes EOF and syntax errors: keep whatever was built.
			return
		}
		switch t := tok.(type) {
		case xml.StartElement:
			p.startElement(t)
		case xml.CharData:
			p.text.Write(t)
		case xml.EndElement:
			p.endElement(t)
		}
	}
}

func (p *parser) startElement(el xml.StartElement) {
	// Text gathered so far belongs to the enclosing element. Only a
	// MediaFile block needs it preserved (its URL); everyone else restarts.
	if p.inMediaFile {
		p.mediaURL.WriteString(p.text.String())
	}
	p.text.Reset()

	switch el.Name.Local {
	case "MediaFile":
		p.inMediaFile = true
		p.mediaURL.Reset()
		p.pendingMedia = MediaRendition{
			Width:    intAttr(el, "width"),
			Height:   intAttr(el, "height"),
			MimeType: attr(el, "type"),
		}
	case "Tracking":
		p.pendingEvent = attr(el, "event")
	case "Verification":
		p.inVerification = true
		p.doc.VerificationVendorKey = attr(el, "vendor")
	case "Pricing":
		p.pendingPricing = Pricing{
			Model:    attr(el, "model"),
			Currency: attr(el, "currency"),
		}
	case "Linear":
		p.doc.SkipOffset = attr(el, "skipoffset")
	case "AdSystem":
		// chardata consumed at the end tag
	}
}

func (p *parser) endElement(el xml.EndElement) {
	content := strings.TrimSpace(p.text.String())

	switch el.Name.Local {
	case "Impression":
		if content != "" {
			p.doc.ImpressionURLs = append(p.doc.ImpressionURLs, content)
		}
	case "Error":
		if content != "" {
			p.doc.ErrorURLs = append(p.doc.ErrorURLs, content)
		}
	case "ClickTracking":
		if content != "" {
			p.doc.ClickTrackingURLs = append(p.doc.ClickTrackingURLs, content)
		}
	case "ClickThrough":
		p.doc.ClickThroughURL = content
	case "Duration":
		if d, ok := parseDuration(content); ok {
			p.doc.Duration = d
		}
	case "Tracking":
		if p.pendingEvent != "" && content != "" {
			if p.inVerification {
				p.doc.VerificationTrackingEvents[p.pendingEvent] = content
			} else {
				p.doc.TrackingEvents[p.pendingEvent] = content
			}
		}
		p.pendingEvent = ""
	case "ClosedCaptionFile":
		if p.inMediaFile {
			p.pendingMedia.CaptionURL = content
		} else {
			p.doc.ClosedCaptionURL = content
		}
	case "JavaScriptResource":
		if content != "" {
			p.doc.VerificationScriptURL = content
		}
	case "VerificationParameters":
		p.doc.VerificationParameters = content
	case "Verification":
		p.inVerification = false
	case "MediaFile":
		p.mediaURL.WriteString(p.text.String())
		p.pendingMedia.URL = strings.TrimSpace(p.mediaURL.String())
		p.doc.MediaRenditions = append(p.doc.MediaRenditions, p.pendingMedia)
		p.inMediaFile = false
		p.pendingMedia = MediaRendition{}
		p.mediaURL.Reset()
	case "Pricing":
		if v, err := decimal.NewFromString(content); err == nil {
			p.pendingPricing.Value = v
			pricing := p.pendingPricing
			p.doc.Pricing = &pricing
		}
	case "AdTitle":
		p.doc.AdTitle = content
	case "AdSystem":
		p.doc.AdSystem = content
	}

	p.text.Reset()
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func intAttr(el xml.StartElement, name string) int {
	v, err := strconv.Atoi(strings.TrimSpace(attr(el, name)))
	if err != nil {
		return 0
	}
	return v
}

// parseDuration handles the VAST HH:MM:SS[.mmm] duration format.
func parseDuration(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(strings.Replace(parts[2], ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return d, true
}
