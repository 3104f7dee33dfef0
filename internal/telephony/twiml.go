package telephony

import (
	"bytes"
	"encoding/xml"
)

// Minimal TwiML response builder for the voice flows the engine drives.
// It intentionally avoids any provider SDK dependency.
//
// Only include primitives we need at the adapter boundary.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr,omitempty"`
	Input         string   `xml:"input,attr,omitempty"`
	NumDigits     int      `xml:"numDigits,attr,omitempty"`
	Timeout       int      `xml:"timeout,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	Verbs         []any    `xml:",any"`
}

type twimlRedirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Response accumulates verbs and renders them as a TwiML document.
type Response struct {
	verbs []any
}

func NewResponse() *Response { return &Response{} }

func (r *Response) Say(text string) *Response {
	r.verbs = append(r.verbs, twimlSay{Text: text})
	return r
}

func (r *Response) Play(url string) *Response {
	r.verbs = append(r.verbs, twimlPlay{URL: url})
	return r
}

// Gather collects caller input and posts it to action. The nested prompt
// verbs play while the gather is listening.
type Gather struct {
	Action        string
	Input         string
	NumDigits     int
	Timeout       int
	SpeechTimeout string
}

func (r *Response) Gather(g Gather, prompt func(*Response)) *Response {
	inner := &Response{}
	if prompt != nil {
		prompt(inner)
	}
	r.verbs = append(r.verbs, twimlGather{
		Action:        g.Action,
		Method:        "POST",
		Input:         g.Input,
		NumDigits:     g.NumDigits,
		Timeout:       g.Timeout,
		SpeechTimeout: g.SpeechTimeout,
		Verbs:         inner.verbs,
	})
	return r
}

func (r *Response) Redirect(url string) *Response {
	r.verbs = append(r.verbs, twimlRedirect{Method: "POST", URL: url})
	return r
}

func (r *Response) Pause(seconds int) *Response {
	r.verbs = append(r.verbs, twimlPause{Length: seconds})
	return r
}

func (r *Response) Hangup() *Response {
	r.verbs = append(r.verbs, twimlHangup{})
	return r
}

// Render serializes the response document.
func (r *Response) Render() (string, error) {
	doc := twimlResponse{Verbs: r.verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
