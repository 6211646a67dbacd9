// Package lineitem holds the ordered line list of an in-progress transaction.
package lineitem

import "errors"

// Money represents a monetary value in whole currency units.
type Money = int64

var (
	// ErrInvalidQuantity is returned for zero or negative quantities.
	ErrInvalidQuantity = errors.New("lineitem: quantity must be positive")
	// ErrQuantityExceedsStock is returned when a non-service item is set above its available stock.
	ErrQuantityExceedsStock = errors.New("lineitem: quantity exceeds available stock")
	// ErrIndexOutOfRange is returned for operations on a slot that does not exist.
	ErrIndexOutOfRange = errors.New("lineitem: index out of range")
	// ErrEmptySlot is returned for operations that require a filled slot.
	ErrEmptySlot = errors.New("lineitem: slot has no item")
	// ErrOutOfStock is returned when merging an item with no remaining stock.
	ErrOutOfStock = errors.New("lineitem: item out of stock")
)

// Item is a resolved catalog entry referenced by a line.
type Item struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	UnitPrice      Money  `json:"unitPrice"`
	AvailableStock int    `json:"availableStock"`
	IsService      bool   `json:"isService"`
}

// Line is one slot of the list. An empty slot is a placeholder the operator
// has not filled yet; empty slots never contribute to the total.
type Line struct {
	Item     Item `json:"item"`
	Quantity int  `json:"quantity"`
	Empty    bool `json:"empty"`
}

// List is an ordered collection of lines. It always keeps exactly one
// trailing empty slot so the next manual or scanned entry has a place to
// land. List is not safe for concurrent use; callers serialize access.
type List struct {
	lines []Line
}

// New returns a list with a single empty slot.
func New() *List {
	return &List{lines: []Line{{Empty: true}}}
}

// Lines returns a copy of all slots, placeholders included.
func (l *List) Lines() []Line {
	out := make([]Line, len(l.lines))
	copy(out, l.lines)
	return out
}

// Filled returns only the slots holding an item.
func (l *List) Filled() []Line {
	out := make([]Line, 0, len(l.lines))
	for _, line := range l.lines {
		if !line.Empty {
			out = append(out, line)
		}
	}
	return out
}

// Total sums quantity times unit price over the filled slots.
func (l *List) Total() Money {
	var total Money
	for _, line := range l.lines {
		if line.Empty {
			continue
		}
		total += Money(line.Quantity) * line.Item.UnitPrice
	}
	return total
}

// Merge places a resolved item into the list: the first empty slot is filled
// when one exists, otherwise a new line is appended. The new line starts at
// quantity 1 and the trailing empty slot is restored. The index of the
// affected slot is returned.
func (l *List) Merge(item Item) (int, error) {
	if !item.IsService && item.AvailableStock < 1 {
		return 0, ErrOutOfStock
	}
	index := -1
	for i, line := range l.lines {
		if line.Empty {
			index = i
			break
		}
	}
	filled := Line{Item: item, Quantity: 1}
	if index >= 0 {
		l.lines[index] = filled
	} else {
		l.lines = append(l.lines, filled)
		index = len(l.lines) - 1
	}
	l.ensureTrailingEmpty()
	return index, nil
}

// SetItem fills the slot at index with the provided item at quantity 1,
// replacing whatever was there.
func (l *List) SetItem(index int, item Item) error {
	if index < 0 || index >= len(l.lines) {
		return ErrIndexOutOfRange
	}
	if !item.IsService && item.AvailableStock < 1 {
		return ErrOutOfStock
	}
	l.lines[index] = Line{Item: item, Quantity: 1}
	l.ensureTrailingEmpty()
	return nil
}

// SetQuantity updates the quantity of a filled slot, honoring stock limits
// for non-service items.
func (l *List) SetQuantity(index, quantity int) error {
	if index < 0 || index >= len(l.lines) {
		return ErrIndexOutOfRange
	}
	line := l.lines[index]
	if line.Empty {
		return ErrEmptySlot
	}
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !line.Item.IsService && quantity > line.Item.AvailableStock {
		return ErrQuantityExceedsStock
	}
	l.lines[index].Quantity = quantity
	return nil
}

// Remove deletes the slot at index. The trailing empty slot is restored so
// the list never runs out of room for the next entry.
func (l *List) Remove(index int) error {
	if index < 0 || index >= len(l.lines) {
		return ErrIndexOutOfRange
	}
	l.lines = append(l.lines[:index], l.lines[index+1:]...)
	l.ensureTrailingEmpty()
	return nil
}

// AddEmptySlot appends a placeholder for manual entry.
func (l *List) AddEmptySlot() {
	l.lines = append(l.lines, Line{Empty: true})
}

func (l *List) ensureTrailingEmpty() {
	if n := len(l.lines); n == 0 || !l.lines[n-1].Empty {
		l.lines = append(l.lines, Line{Empty: true})
	}
}
