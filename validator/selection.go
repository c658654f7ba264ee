package validator

import (
	"github.com/wfunc/splendor-client/models"
)

// Selection is the gems picked so far for a take-gems move. The zero value is a
// nil map: read-only until made, so build one with NewSelection or a literal.
type Selection map[models.GemType]int

func NewSelection() Selection { return Selection{} }

// Toggle applies one click on gem. The count goes up by one while it is below
// 2, below what the bank holds and the selection totals under 3; otherwise a
// selected gem is dropped entirely. Gold is ignored.
func (s Selection) Toggle(gem models.GemType, bank models.Gems) {
	if gem == models.Gold {
		return
	}
	current := s[gem]
	if current < bank.Get(gem) && current < 2 && s.Total() < 3 {
		s[gem] = current + 1
		return
	}
	if current > 0 {
		delete(s, gem)
	}
}

// Total sums the positive counts.
func (s Selection) Total() int {
	total := 0
	for _, n := range s {
		if n > 0 {
			total += n
		}
	}
	return total
}

// Types counts the colours with a positive count.
func (s Selection) Types() int {
	n := 0
	for _, c := range s {
		if c > 0 {
			n++
		}
	}
	return n
}

func (s Selection) Clear() {
	for k := range s {
		delete(s, k)
	}
}

// Gems returns the selection as the wire payload, without zero entries.
func (s Selection) Gems() models.Gems {
	out := models.Gems{}
	for gem, n := range s {
		if n > 0 {
			out[gem] = n
		}
	}
	return out
}

// CheckGemSelection accepts exactly three distinct colours one each, or two
// of one colour when the bank holds at least four of it before the draw. Any
// count outside 0..2 or a key that is not a takeable colour makes the whole
// selection invalid.
func CheckGemSelection(sel Selection, bank models.Gems) Reason {
	var (
		single       models.GemType
		total, types int
		gold         bool
	)
	for gem, n := range sel {
		if n < 0 || n > 2 {
			return ReasonInvalidSelect
		}
		if n == 0 {
			continue
		}
		if gem == models.Gold {
			gold = true
			continue
		}
		if !isColor(gem) {
			return ReasonInvalidSelect
		}
		single = gem
		total += n
		types++
	}
	if gold {
		return ReasonGoldNotTaken
	}
	for gem, n := range sel {
		if n > 0 && n > bank.Get(gem) {
			return ReasonExceedsBank
		}
	}

	switch {
	case total == 3 && types == 3:
		return OK
	case total == 2 && types == 1:
		if bank.Get(single) < 4 {
			return ReasonNeedFourInBank
		}
		return OK
	}
	return ReasonInvalidSelect
}

func isColor(gem models.GemType) bool {
	for _, c := range models.GemColors {
		if c == gem {
			return true
		}
	}
	return false
}
