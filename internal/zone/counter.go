package zone

// EntryCounter counts entries of tracked identities into one zone. An identity is
// counted once when it first appears inside and forgotten after it has been
// missing for absenceLimit consecutive samples, so a later re-entry counts again.
type EntryCounter struct {
	absenceLimit int
	present      map[string]int // track id -> consecutive samples missing
	count        int
}

func NewEntryCounter(absenceLimit int) *EntryCounter {
	if absenceLimit < 1 {
		absenceLimit = 1
	}
	return &EntryCounter{
		absenceLimit: absenceLimit,
		present:      make(map[string]int),
	}
}

// Observe takes the identities seen inside the zone for one sample and returns
// how many of them entered.
func (c *EntryCounter) Observe(ids []string) int {
	seen := make(map[string]struct{}, len(ids))
	entered := 0
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := c.present[id]; !ok {
			entered++
		}
		c.present[id] = 0
	}

	for id, misses := range c.present {
		if _, ok := seen[id]; ok {
			continue
		}
		misses++
		if misses >= c.absenceLimit {
			delete(c.present, id)
			continue
		}
		c.present[id] = misses
	}

	c.count += entered
	return entered
}

func (c *EntryCounter) Count() int {
	return c.count
}

// Present returns the number of identities currently considered inside.
func (c *EntryCounter) Present() int {
	return len(c.present)
}
