package script

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Script is the validated page/block graph an automated campaign walks per
// live call. It is parsed once at campaign load; traversal code can assume
// every reference resolves (see Validate).
//
// Persisted JSON shape:
//
//	{"pages": {id: {"id":..,"title":..,"blocks":[blockId,...]}},
//	 "blocks": {id: {"id":..,"type":..,"content":..,"options":[{"value":..,"next":..}]}}}
//
// Page order follows declaration order of the pages object.
type Script struct {
	PageOrder []string
	Pages     map[string]Page
	Blocks    map[string]Block
}

type Page struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Blocks []string `json:"blocks"`
}

type Block struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Title   string   `json:"title,omitempty"`
	Content string   `json:"content,omitempty"`
	// AudioURL points at a pre-recorded asset for play-type blocks.
	AudioURL string   `json:"audioFile,omitempty"`
	Options  []Option `json:"options,omitempty"`
}

// Option maps caller input to a jump target. Next may be "end", a block id,
// a page id, or a "page:block" pair.
type Option struct {
	Value string `json:"value"`
	Next  string `json:"next,omitempty"`
}

var ErrInvalidScript = errors.New("script: invalid definition")

// Parse decodes the persisted JSON into a Script, preserving page declaration
// order. It does not validate references; call Validate before activation.
func Parse(data []byte) (*Script, error) {
	var raw struct {
		Pages  json.RawMessage  `json:"pages"`
		Blocks map[string]Block `json:"blocks"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if len(raw.Pages) == 0 {
		return nil, fmt.Errorf("%w: pages required", ErrInvalidScript)
	}

	s := &Script{
		Pages:  make(map[string]Page),
		Blocks: raw.Blocks,
	}
	if s.Blocks == nil {
		s.Blocks = make(map[string]Block)
	}

	// encoding/json randomizes map order, so walk the pages object with a
	// token decoder to keep declaration order.
	dec := json.NewDecoder(bytes.NewReader(raw.Pages))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: pages must be an object", ErrInvalidScript)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
		}
		id, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("%w: page key must be a string", ErrInvalidScript)
		}
		var p Page
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("%w: page %s: %v", ErrInvalidScript, id, err)
		}
		if p.ID == "" {
			p.ID = id
		}
		s.PageOrder = append(s.PageOrder, id)
		s.Pages[id] = p
	}

	return s, nil
}

// FirstBlock returns the first block id of the given page.
func (s *Script) FirstBlock(pageID string) (string, bool) {
	p, ok := s.Pages[pageID]
	if !ok || len(p.Blocks) == 0 {
		return "", false
	}
	return p.Blocks[0], true
}

// FirstStep returns the entry location of the script.
func (s *Script) FirstStep() (pageID, blockID string, ok bool) {
	for _, pid := range s.PageOrder {
		if bid, ok := s.FirstBlock(pid); ok {
			return pid, bid, true
		}
	}
	return "", "", false
}

// pageOf returns the page containing a block id, preferring the given page.
func (s *Script) pageOf(preferred, blockID string) (string, bool) {
	if p, ok := s.Pages[preferred]; ok {
		for _, b := range p.Blocks {
			if b == blockID {
				return preferred, true
			}
		}
	}
	for _, pid := range s.PageOrder {
		for _, b := range s.Pages[pid].Blocks {
			if b == blockID {
				return pid, true
			}
		}
	}
	return "", false
}
