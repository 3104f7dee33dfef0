package script

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors are fatal: a campaign must not run with an invalid
// script. Defects are reported whole rather than stopping at the first.
var (
	ErrDanglingReference = errors.New("script: dangling reference")
	ErrCycle             = errors.New("script: option cycle")
)

// Validate checks reference integrity and option-chain acyclicity:
//   - every block id referenced by a page exists;
//   - every option next resolves to "end" or an existing block/page id;
//   - no block is reachable from itself along a single option chain
//     (depth-first traversal with a recursion-stack set).
func (s *Script) Validate() error {
	var errs []error

	for _, pid := range s.PageOrder {
		p := s.Pages[pid]
		if len(p.Blocks) == 0 {
			errs = append(errs, fmt.Errorf("%w: page %q has no blocks", ErrInvalidScript, pid))
		}
		for _, bid := range p.Blocks {
			if _, ok := s.Blocks[bid]; !ok {
				errs = append(errs, fmt.Errorf("%w: page %q references missing block %q", ErrDanglingReference, pid, bid))
			}
		}
	}

	for bid, b := range s.Blocks {
		for _, opt := range b.Options {
			if opt.Next == "" || opt.Next == "end" {
				continue
			}
			if !s.targetExists(opt.Next) {
				errs = append(errs, fmt.Errorf("%w: block %q option %q points to unknown target %q", ErrDanglingReference, bid, opt.Value, opt.Next))
			}
		}
	}

	// Cycle detection only makes sense once references resolve.
	if len(errs) == 0 {
		state := make(map[string]int, len(s.Blocks)) // 0 unvisited, 1 on stack, 2 done
		for bid := range s.Blocks {
			if state[bid] == 0 {
				if err := s.walkOptions(bid, state); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	return errors.Join(errs...)
}

func (s *Script) targetExists(target string) bool {
	if page, block, found := strings.Cut(target, ":"); found {
		_, pok := s.Pages[page]
		_, bok := s.Blocks[block]
		return pok && bok
	}
	if _, ok := s.Pages[target]; ok {
		return true
	}
	_, ok := s.Blocks[target]
	return ok
}

// walkOptions runs DFS over option edges. state 1 marks the recursion stack;
// hitting a stacked block means the chain revisits it.
func (s *Script) walkOptions(bid string, state map[string]int) error {
	state[bid] = 1
	for _, opt := range s.Blocks[bid].Options {
		next, ok := s.optionEdge(bid, opt.Next)
		if !ok {
			continue
		}
		switch state[next] {
		case 1:
			return fmt.Errorf("%w: block %q is reachable from itself", ErrCycle, next)
		case 0:
			if err := s.walkOptions(next, state); err != nil {
				return err
			}
		}
	}
	state[bid] = 2
	return nil
}

// optionEdge resolves an option target to the block it lands on.
func (s *Script) optionEdge(from, target string) (string, bool) {
	if target == "" || target == "end" {
		return "", false
	}
	if _, block, found := strings.Cut(target, ":"); found {
		return block, true
	}
	if _, isPage := s.Pages[target]; isPage {
		return s.FirstBlock(target)
	}
	if _, isBlock := s.Blocks[target]; isBlock {
		return target, true
	}
	return "", false
}

// Load parses and validates in one step; the only entry point campaign
// activation should use.
func Load(data []byte) (*Script, error) {
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}
