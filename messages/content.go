package messages

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-openapi/strfmt"
	json "github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Placeholders used when a historical part can't be sent to a provider.
const (
	ImageOmitted = "[image omitted]"
	AudioOmitted = "[audio omitted]"
)

// Content is either plain text or an ordered list of parts.
// When Parts is non-nil the content is multi-part and Text is ignored.
type Content struct {
	Text  string
	Parts []Part
	_     struct{} // require keyed usage
}

// TextContent creates plain text content.
func TextContent(text string) Content {
	return Content{Text: text}
}

// PartsContent creates multi-part content from the given parts.
func PartsContent(parts ...Part) Content {
	if parts == nil {
		parts = []Part{}
	}
	return Content{Parts: parts}
}

// IsMultipart reports whether the content is a list of parts.
func (c Content) IsMultipart() bool {
	return c.Parts != nil
}

// PlainText returns the textual portion of the content. For multi-part content the
// text parts are joined with a newline; binary parts contribute nothing.
func (c Content) PlainText() string {
	if !c.IsMultipart() {
		return c.Text
	}
	var texts []string
	for _, p := range c.Parts {
		if tp, ok := p.(TextPart); ok {
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Image returns the first image part, if any.
func (c Content) Image() (ImagePart, bool) {
	for _, p := range c.Parts {
		if ip, ok := p.(ImagePart); ok {
			return ip, true
		}
	}
	return ImagePart{}, false
}

// Audio returns the first audio part, if any.
func (c Content) Audio() (AudioPart, bool) {
	for _, p := range c.Parts {
		if ap, ok := p.(AudioPart); ok {
			return ap, true
		}
	}
	return AudioPart{}, false
}

// MarshalJSON writes plain text as a JSON string and parts as a JSON array.
func (c Content) MarshalJSON() ([]byte, error) {
	if !c.IsMultipart() {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

// UnmarshalJSON accepts a JSON string, an array of typed parts or null.
func (c *Content) UnmarshalJSON(input []byte) error {
	if !gjson.ValidBytes(input) {
		return fmt.Errorf("invalid json: %s", input)
	}
	jv := gjson.ParseBytes(input)
	switch {
	case jv.Type == gjson.Null:
		*c = Content{}
		return nil
	case jv.IsArray():
		aj := jv.Array()
		parts := make([]Part, len(aj))
		for idx, ajv := range aj {
			part, err := unmarshalPart([]byte(ajv.Raw))
			if err != nil {
				return fmt.Errorf("invalid part at %d: %w", idx, err)
			}
			parts[idx] = part
		}
		*c = Content{Parts: parts}
		return nil
	case jv.Type == gjson.String:
		*c = Content{Text: jv.String()}
		return nil
	default:
		return fmt.Errorf("content must be a string or an array, got %s", jv.Type)
	}
}

func unmarshalPart(raw []byte) (Part, error) {
	tpe := gjson.GetBytes(raw, "type").String()
	switch tpe {
	case "text":
		var part TextPart
		if err := part.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return part, nil
	case "image":
		var part ImagePart
		if err := part.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return part, nil
	case "audio":
		var part AudioPart
		if err := part.UnmarshalJSON(raw); err != nil {
			return nil, err
		}
		return part, nil
	default:
		return nil, fmt.Errorf("unknown part type %q", tpe)
	}
}

// Part marks the structs that can appear in multi-part content.
type Part interface {
	part()
}

// Text creates a TextPart.
func Text(text string) TextPart {
	return TextPart{Text: text}
}

// TextPart is a text segment.
type TextPart struct {
	Text string
	_    struct{} // require keyed usage
}

func (TextPart) part() {}

var textJSON = []byte(`{"type":"text"}`)

func (t TextPart) MarshalJSON() ([]byte, error) {
	return sjson.SetBytes(textJSON, "text", t.Text)
}

func (t *TextPart) UnmarshalJSON(input []byte) error {
	text := gjson.GetBytes(input, "text")
	if !text.Exists() {
		return errors.New("missing required field 'text'")
	}
	t.Text = text.String()
	return nil
}

// Image creates an ImagePart from raw bytes.
func Image(data []byte, mimeType string) ImagePart {
	return ImagePart{Data: strfmt.Base64(data), MIMEType: mimeType}
}

// ImagePart is an inline image.
type ImagePart struct {
	Data     strfmt.Base64
	MIMEType string
	_        struct{} // require keyed usage
}

func (ImagePart) part() {}

var imageJSON = []byte(`{"type":"image"}`)

func (i ImagePart) MarshalJSON() ([]byte, error) {
	return marshalBinary(imageJSON, i.Data, i.MIMEType)
}

func (i *ImagePart) UnmarshalJSON(input []byte) error {
	data, mime, err := unmarshalBinary(input)
	if err != nil {
		return err
	}
	i.Data, i.MIMEType = data, mime
	return nil
}

// Audio creates an AudioPart from raw bytes.
func Audio(data []byte, mimeType string) AudioPart {
	return AudioPart{Data: strfmt.Base64(data), MIMEType: mimeType}
}

// AudioPart is an inline audio clip.
type AudioPart struct {
	Data     strfmt.Base64
	MIMEType string
	_        struct{} // require keyed usage
}

func (AudioPart) part() {}

var audioJSON = []byte(`{"type":"audio"}`)

func (a AudioPart) MarshalJSON() ([]byte, error) {
	return marshalBinary(audioJSON, a.Data, a.MIMEType)
}

func (a *AudioPart) UnmarshalJSON(input []byte) error {
	data, mime, err := unmarshalBinary(input)
	if err != nil {
		return err
	}
	a.Data, a.MIMEType = data, mime
	return nil
}

func marshalBinary(base []byte, data strfmt.Base64, mimeType string) ([]byte, error) {
	out, err := sjson.SetBytes(base, "data", data.String())
	if err != nil {
		return nil, err
	}
	return sjson.SetBytes(out, "mime_type", mimeType)
}

func unmarshalBinary(input []byte) (strfmt.Base64, string, error) {
	if !gjson.ValidBytes(input) {
		return nil, "", errors.New("invalid json for binary part")
	}
	data := gjson.GetBytes(input, "data")
	mime := gjson.GetBytes(input, "mime_type")
	if !data.Exists() || !mime.Exists() {
		return nil, "", errors.New("binary part requires both 'data' and 'mime_type' fields")
	}
	var b strfmt.Base64
	if err := b.UnmarshalText([]byte(data.String())); err != nil {
		return nil, "", fmt.Errorf("invalid base64 data: %w", err)
	}
	return b, mime.String(), nil
}

// Placeholder returns the text that stands in for a part a provider can't accept.
func Placeholder(p Part) string {
	switch pt := p.(type) {
	case TextPart:
		return pt.Text
	case ImagePart:
		return ImageOmitted
	case AudioPart:
		return AudioOmitted
	default:
		return ""
	}
}
