package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/sssolid/crown-nexus/engine/domain"
	"github.com/sssolid/crown-nexus/pkg/fn"
)

// PositionFinder looks up a position by its normalized name.
type PositionFinder interface {
	FindPosition(ctx context.Context, normalized string) (int, bool, error)
}

// PositionResolution holds one ordered set of position ids per alternative.
// Each group becomes its own fitment.
type PositionResolution struct {
	Groups     [][]int
	Unresolved []string
	Status     domain.Status
	Message    string
}

// PositionResolver resolves compound position text such as
// "Left or Right Front Upper Ball Joint".
type PositionResolver struct {
	finder PositionFinder
}

// NewPositionResolver creates a PositionResolver.
func NewPositionResolver(finder PositionFinder) *PositionResolver {
	return &PositionResolver{finder: finder}
}

// Normalize lower-cases s and collapses runs of whitespace.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// Resolve splits text on "or" into alternative groups and on "and" into
// fragments. A fragment that does not resolve alone borrows a tail of the
// last fragment. Unresolved fragments make the result WARNING; text that
// cannot be split is a *domain.ResolutionError.
func (r *PositionResolver) Resolve(ctx context.Context, text string) (PositionResolution, error) {
	groups, err := splitPositions(text)
	if err != nil {
		return PositionResolution{}, err
	}
	last := groups[len(groups)-1]
	anchor := last[len(last)-1]

	l := &lookup{finder: r.finder, seen: make(map[string]lookupResult)}
	var res PositionResolution
	seenGroup := make(map[string]bool)
	for _, frags := range groups {
		var ids []int
		for _, frag := range frags {
			id, ok, err := r.resolveFragment(ctx, l, frag, anchor)
			if err != nil {
				return PositionResolution{}, err
			}
			if !ok {
				res.Unresolved = append(res.Unresolved, strings.Join(frag, " "))
				continue
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			continue
		}
		ids = fn.Unique(ids)
		if key := fmt.Sprint(ids); !seenGroup[key] {
			seenGroup[key] = true
			res.Groups = append(res.Groups, ids)
		}
	}

	switch {
	case len(res.Groups) == 0:
		res.Groups = [][]int{{}}
		res.Status = domain.StatusWarning
		res.Message = fmt.Sprintf("no position matched %q", text)
	case len(res.Unresolved) > 0:
		res.Status = domain.StatusWarning
		res.Message = fmt.Sprintf("unmatched positions: %s", strings.Join(res.Unresolved, ", "))
	default:
		res.Status = domain.StatusValid
	}
	return res, nil
}

// resolveFragment tries the fragment alone, then completed with anchor tails.
func (r *PositionResolver) resolveFragment(ctx context.Context, l *lookup, frag, anchor []string) (int, bool, error) {
	id, ok, err := l.find(ctx, strings.Join(frag, " "))
	if err != nil || ok {
		return id, ok, err
	}
	if sameWords(frag, anchor) {
		return 0, false, nil
	}
	for _, drop := range tailDrops(len(frag), len(anchor)) {
		candidate := strings.Join(append(append([]string{}, frag...), anchor[drop:]...), " ")
		id, ok, err := l.find(ctx, candidate)
		if err != nil || ok {
			return id, ok, err
		}
	}
	return 0, false, nil
}

// tailDrops lists how many leading anchor words to drop, best first: as many
// as the fragment has words, then the shortest tails, then the whole anchor.
func tailDrops(fragLen, anchorLen int) []int {
	var out []int
	if fragLen < anchorLen {
		out = append(out, fragLen)
	}
	for d := anchorLen - 1; d >= 1; d-- {
		if d != fragLen {
			out = append(out, d)
		}
	}
	return append(out, 0)
}

// splitPositions normalizes text into groups of fragments of words.
func splitPositions(text string) ([][][]string, error) {
	words := strings.Fields(Normalize(text))
	if len(words) == 0 {
		return nil, unparsable(text, "empty position text")
	}

	var (
		groups [][][]string
		frags  [][]string
		cur    []string
	)
	endFragment := func() error {
		if len(cur) == 0 {
			return unparsable(text, "conjunction without a position")
		}
		frags = append(frags, cur)
		cur = nil
		return nil
	}
	for _, w := range words {
		switch w {
		case "and", "&":
			if err := endFragment(); err != nil {
				return nil, err
			}
		case "or":
			if err := endFragment(); err != nil {
				return nil, err
			}
			groups = append(groups, frags)
			frags = nil
		default:
			cur = append(cur, w)
		}
	}
	if err := endFragment(); err != nil {
		return nil, err
	}
	return append(groups, frags), nil
}

func unparsable(text, msg string) error {
	return &domain.ResolutionError{
		Kind: domain.KindPositionNotFound,
		Msg:  fmt.Sprintf("unparsable position text %q: %s", text, msg),
	}
}

func sameWords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type lookupResult struct {
	id int
	ok bool
}

// lookup memoizes position lookups for one Resolve call.
type lookup struct {
	finder PositionFinder
	seen   map[string]lookupResult
}

func (l *lookup) find(ctx context.Context, normalized string) (int, bool, error) {
	if r, ok := l.seen[normalized]; ok {
		return r.id, r.ok, nil
	}
	id, ok, err := l.finder.FindPosition(ctx, normalized)
	if err != nil {
		return 0, false, fmt.Errorf("resolve position: %w", err)
	}
	l.seen[normalized] = lookupResult{id, ok}
	return id, ok, nil
}
