package invoice

import "time"

// Allocator derives the grouping identifier shared by all sale lines of one
// checkout. The id is the local timestamp at minute granularity, so two
// checkouts completed within the same minute share an id. That is accepted:
// the invoice id groups the lines of one cart for receipt printing and is not
// a uniqueness guarantee.
type Allocator struct {
	loc *time.Location
}

func NewAllocator(loc *time.Location) *Allocator {
	if loc == nil {
		loc = time.UTC
	}
	return &Allocator{loc: loc}
}

func (a *Allocator) Allocate(now time.Time) string {
	return now.In(a.loc).Format("200601021504")
}

// Now returns the current wall-clock time in the allocator's location, used to
// stamp sale, expense and return rows consistently with invoice ids.
func (a *Allocator) Now() time.Time {
	return time.Now().In(a.loc)
}
