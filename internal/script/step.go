package script

import "strings"

// Step targets. Each IVR webhook resolves exactly one step; no traversal
// state is kept between callbacks beyond the target encoded in the redirect.
const (
	// StepHangup terminates the call.
	StepHangup = "hangup"

	// wildcardValue matches any input longer than 2 characters. Used for
	// open-ended speech capture options.
	wildcardValue = "vx-any"
)

// FindNextStep resolves the next target for a call sitting at
// (pageID, blockID) given the caller's input.
//
// Resolution order:
//  1. If the block defines options, match input against each option value in
//     declaration order (exact trimmed match; "vx-any" accepts any input of
//     length > 2). A matched option with a next wins.
//  2. Otherwise advance linearly: next block in the page, then the first
//     block of the following page, then "hangup" at the end of the script.
//
// The returned target is "hangup", "page:block", a page id, or a block id.
func FindNextStep(s *Script, pageID, blockID, input string) string {
	if s == nil {
		return StepHangup
	}

	if b, ok := s.Blocks[blockID]; ok && len(b.Options) > 0 {
		trimmed := strings.TrimSpace(input)
		for _, opt := range b.Options {
			if !optionMatches(opt.Value, trimmed) {
				continue
			}
			if opt.Next != "" {
				if opt.Next == "end" {
					return StepHangup
				}
				return opt.Next
			}
			break
		}
	}

	return s.advance(pageID, blockID)
}

func optionMatches(value, input string) bool {
	if value == wildcardValue {
		return len(input) > 2
	}
	return strings.TrimSpace(value) == input
}

// advance moves one block forward in page order.
func (s *Script) advance(pageID, blockID string) string {
	p, ok := s.Pages[pageID]
	if !ok {
		return StepHangup
	}

	idx := -1
	for i, b := range p.Blocks {
		if b == blockID {
			idx = i
			break
		}
	}
	if idx >= 0 && idx+1 < len(p.Blocks) {
		return p.Blocks[idx+1]
	}

	// End of page: first block of the next page.
	for i, pid := range s.PageOrder {
		if pid != pageID {
			continue
		}
		for _, nextPID := range s.PageOrder[i+1:] {
			if bid, ok := s.FirstBlock(nextPID); ok {
				return nextPID + ":" + bid
			}
		}
		break
	}
	return StepHangup
}

// Resolve maps a step target to a concrete (page, block) location relative
// to the current page. It returns ok=false for "hangup" and for targets that
// do not resolve (callers should treat both as call termination).
func (s *Script) Resolve(currentPage, target string) (pageID, blockID string, ok bool) {
	if s == nil || target == "" || target == StepHangup || target == "end" {
		return "", "", false
	}

	if page, block, found := strings.Cut(target, ":"); found {
		if _, ok := s.Pages[page]; !ok {
			return "", "", false
		}
		if _, ok := s.Blocks[block]; !ok {
			return "", "", false
		}
		return page, block, true
	}

	// A bare page id jumps to that page's first block.
	if _, isPage := s.Pages[target]; isPage {
		bid, ok := s.FirstBlock(target)
		if !ok {
			return "", "", false
		}
		return target, bid, true
	}

	// Any other bare id is a block within the current page.
	if _, isBlock := s.Blocks[target]; isBlock {
		if pid, ok := s.pageOf(currentPage, target); ok {
			return pid, target, true
		}
	}
	return "", "", false
}
